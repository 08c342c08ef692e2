package tagsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// InitialSync bootstraps the mapping using the given strategy. It is meant
// to run when no mapping exists yet, or on explicit user request to
// re-bootstrap; any previous mapping is replaced wholesale.
//
// Single-item API failures are logged, counted and skipped so one bad
// bookmark cannot abort the whole bootstrap. Remote creates are the
// exception: their client must not retry them blindly, and a failed create
// is only counted, never re-attempted within the run.
func (e *Engine) InitialSync(ctx context.Context, mode InitialMode) (InitialResult, error) {
	runLog := e.log.With().Str("run", newRunID()).Str("mode", string(mode)).Logger()
	runLog.Info().Msg("starting initial sync")

	remoteByURL, err := e.fetchRemote(ctx)
	if err != nil {
		return InitialResult{}, err
	}
	localByURL, err := e.fetchLocal(ctx)
	if err != nil {
		return InitialResult{}, err
	}

	var result InitialResult
	mapping := Mapping{}
	switch mode {
	case ModePush:
		err = e.initialPush(ctx, runLog, remoteByURL, localByURL, mapping, &result)
	case ModePull:
		err = e.initialPull(ctx, runLog, remoteByURL, mapping, &result)
	case ModeMerge:
		err = e.initialMerge(ctx, runLog, remoteByURL, localByURL, mapping, &result)
	default:
		return InitialResult{}, fmt.Errorf("%w: unknown initial sync mode %q", ErrInvalidInput, mode)
	}
	if err != nil {
		return InitialResult{}, err
	}

	result.Total = len(mapping)
	if err := e.mapping.Save(mapping); err != nil {
		return InitialResult{}, fmt.Errorf("save mapping: %w", err)
	}
	runLog.Info().
		Int("added", result.Added).
		Int("updated", result.Updated).
		Int("downloaded", result.Downloaded).
		Int("errors", result.Errors).
		Int("total", result.Total).
		Msg("initial sync complete")
	return result, nil
}

// initialPush uploads every local bookmark. Existing remote items with the
// same URL get the local path's tags merged in; everything else is created.
// The remote store is never deleted from and the local tree is untouched.
func (e *Engine) initialPush(ctx context.Context, runLog zerolog.Logger, remoteByURL map[string]RemoteItem, localByURL map[string]LocalItem, mapping Mapping, result *InitialResult) error {
	now := e.now()
	for _, url := range sortedKeys(localByURL) {
		item := localByURL[url]
		remote, exists := remoteByURL[url]
		if !exists {
			if err := e.throttle(ctx); err != nil {
				return err
			}
			created, err := e.remote.Create(ctx, item.URL, item.Title, PathToTags(e.syncTag, item.Path))
			if err != nil {
				runLog.Warn().Err(err).Str("url", url).Msg("push create failed; skipping item")
				result.Errors++
				continue
			}
			result.Added++
			mapping[url] = Entry{
				RemoteID:     created.ID,
				LocalID:      item.ID,
				Title:        item.Title,
				URL:          url,
				Path:         item.Path,
				LastSyncedAt: now,
			}
			continue
		}

		merged := mergeSyncTags(e.syncTag, remote.Tags, item.Path)
		if !equalTagSets(remote.Tags, merged) {
			if err := e.throttle(ctx); err != nil {
				return err
			}
			updated, err := e.remote.Update(ctx, remote.ID, RemotePatch{Tags: &merged})
			if err != nil {
				runLog.Warn().Err(err).Str("url", url).Msg("push update failed; skipping item")
				result.Errors++
				continue
			}
			remote = updated
			result.Updated++
		}
		mapping[url] = Entry{
			RemoteID:     remote.ID,
			LocalID:      item.ID,
			Title:        remote.Title,
			URL:          url,
			Path:         item.Path,
			LastSyncedAt: now,
		}
	}
	return nil
}

// initialPull wipes the local sync root and recreates one bookmark per
// remote item at its decoded path.
func (e *Engine) initialPull(ctx context.Context, runLog zerolog.Logger, remoteByURL map[string]RemoteItem, mapping Mapping, result *InitialResult) error {
	if err := e.local.RemoveSubtree(ctx, e.rootID); err != nil {
		return fmt.Errorf("clear local root: %w", err)
	}
	return e.downloadAll(ctx, runLog, remoteByURL, mapping, result)
}

// downloadAll is shared between Pull and the one-directional mirror mode.
// mapping may be nil when no mapping should be recorded.
func (e *Engine) downloadAll(ctx context.Context, runLog zerolog.Logger, remoteByURL map[string]RemoteItem, mapping Mapping, result *InitialResult) error {
	now := e.now()
	for _, url := range sortedKeys(remoteByURL) {
		item := remoteByURL[url]
		path := TagsToPath(e.syncTag, item.Tags)
		folderID, err := e.local.EnsureFolderPath(ctx, e.rootID, path)
		if err != nil {
			runLog.Warn().Err(err).Str("url", url).Str("path", path).Msg("pull folder creation failed; skipping item")
			result.Errors++
			continue
		}
		localID, err := e.local.Create(ctx, folderID, item.Title, item.URL)
		if err != nil {
			runLog.Warn().Err(err).Str("url", url).Msg("pull create failed; skipping item")
			result.Errors++
			continue
		}
		result.Downloaded++
		if mapping != nil {
			mapping[url] = Entry{
				RemoteID:     item.ID,
				LocalID:      localID,
				Title:        item.Title,
				URL:          url,
				Path:         path,
				LastSyncedAt: now,
			}
		}
	}
	return nil
}

// initialMerge combines both sides: local-only items are pushed, remote-only
// items are pulled, overlapping items keep the most recently modified title
// and the local path. The local path wins on a conflicting first merge
// because the user is actively organizing locally.
func (e *Engine) initialMerge(ctx context.Context, runLog zerolog.Logger, remoteByURL map[string]RemoteItem, localByURL map[string]LocalItem, mapping Mapping, result *InitialResult) error {
	now := e.now()
	union := map[string]struct{}{}
	for url := range remoteByURL {
		union[url] = struct{}{}
	}
	for url := range localByURL {
		union[url] = struct{}{}
	}

	for _, url := range sortedKeys(union) {
		local, hasLocal := localByURL[url]
		remote, hasRemote := remoteByURL[url]
		switch {
		case hasLocal && !hasRemote:
			if err := e.throttle(ctx); err != nil {
				return err
			}
			created, err := e.remote.Create(ctx, local.URL, local.Title, PathToTags(e.syncTag, local.Path))
			if err != nil {
				runLog.Warn().Err(err).Str("url", url).Msg("merge push failed; skipping item")
				result.Errors++
				continue
			}
			result.Added++
			mapping[url] = Entry{
				RemoteID:     created.ID,
				LocalID:      local.ID,
				Title:        local.Title,
				URL:          url,
				Path:         local.Path,
				LastSyncedAt: now,
			}

		case hasRemote && !hasLocal:
			path := TagsToPath(e.syncTag, remote.Tags)
			folderID, err := e.local.EnsureFolderPath(ctx, e.rootID, path)
			if err != nil {
				runLog.Warn().Err(err).Str("url", url).Str("path", path).Msg("merge folder creation failed; skipping item")
				result.Errors++
				continue
			}
			localID, err := e.local.Create(ctx, folderID, remote.Title, remote.URL)
			if err != nil {
				runLog.Warn().Err(err).Str("url", url).Msg("merge pull failed; skipping item")
				result.Errors++
				continue
			}
			result.Downloaded++
			mapping[url] = Entry{
				RemoteID:     remote.ID,
				LocalID:      localID,
				Title:        remote.Title,
				URL:          url,
				Path:         path,
				LastSyncedAt: now,
			}

		default:
			if err := e.mergeBoth(ctx, runLog, local, remote, mapping, now, result); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeBoth reconciles one URL present on both sides during Merge. Titles
// go to the most recently modified side, comparing the remote modification
// timestamp against the local creation timestamp; paths always come from
// the local tree.
func (e *Engine) mergeBoth(ctx context.Context, runLog zerolog.Logger, local LocalItem, remote RemoteItem, mapping Mapping, now time.Time, result *InitialResult) error {
	title := local.Title
	if !remote.ModifiedAt.IsZero() && remote.ModifiedAt.After(local.AddedAt) {
		title = remote.Title
	}

	changed := false
	merged := mergeSyncTags(e.syncTag, remote.Tags, local.Path)
	patch := RemotePatch{}
	if !equalTagSets(remote.Tags, merged) {
		patch.Tags = &merged
	}
	if remote.Title != title {
		patch.Title = &title
	}
	if patch.Tags != nil || patch.Title != nil {
		if err := e.throttle(ctx); err != nil {
			return err
		}
		if _, err := e.remote.Update(ctx, remote.ID, patch); err != nil {
			runLog.Warn().Err(err).Str("url", remote.URL).Msg("merge remote update failed; skipping item")
			result.Errors++
			return nil
		}
		changed = true
	}
	if local.Title != title {
		if err := e.local.Update(ctx, local.ID, title); err != nil {
			if errors.Is(err, ErrNotFound) {
				runLog.Warn().Str("url", local.URL).Msg("local item vanished during merge; skipping item")
			} else {
				runLog.Warn().Err(err).Str("url", local.URL).Msg("merge local update failed; skipping item")
				result.Errors++
			}
			return nil
		}
		changed = true
	}
	if changed {
		result.Updated++
	}
	mapping[local.URL] = Entry{
		RemoteID:     remote.ID,
		LocalID:      local.ID,
		Title:        title,
		URL:          local.URL,
		Path:         local.Path,
		LastSyncedAt: now,
	}
	return nil
}

// Mirror performs the one-directional "mirror and replace" download: it
// wipes the local sync root and recreates it from the remote store without
// touching the persisted mapping.
func (e *Engine) Mirror(ctx context.Context) (InitialResult, error) {
	runLog := e.log.With().Str("run", newRunID()).Str("mode", "mirror").Logger()
	runLog.Info().Msg("starting mirror download")

	remoteByURL, err := e.fetchRemote(ctx)
	if err != nil {
		return InitialResult{}, err
	}
	if err := e.local.RemoveSubtree(ctx, e.rootID); err != nil {
		return InitialResult{}, fmt.Errorf("clear local root: %w", err)
	}
	var result InitialResult
	if err := e.downloadAll(ctx, runLog, remoteByURL, nil, &result); err != nil {
		return InitialResult{}, err
	}
	result.Total = result.Downloaded
	runLog.Info().Int("downloaded", result.Downloaded).Int("errors", result.Errors).Msg("mirror download complete")
	return result, nil
}
