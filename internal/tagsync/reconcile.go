package tagsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Reconcile runs one steady-state incremental pass: link or create items
// that appeared on either side since the last run, propagate deletions of
// mapped items, and resolve title/path divergence on items present on both
// sides. The mapping is loaded once at the start and saved once at the end,
// so a crash mid-run leaves the previous consistent mapping behind.
func (e *Engine) Reconcile(ctx context.Context) (ReconcileResult, error) {
	mapping, err := e.mapping.Load()
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("load mapping: %w", err)
	}
	if mapping == nil {
		return ReconcileResult{}, ErrNoMapping
	}

	runLog := e.log.With().Str("run", newRunID()).Logger()
	runLog.Debug().Int("mapped", len(mapping)).Msg("starting reconciliation")

	remoteByURL, err := e.fetchRemote(ctx)
	if err != nil {
		return ReconcileResult{}, err
	}
	localByURL, err := e.fetchLocal(ctx)
	if err != nil {
		return ReconcileResult{}, err
	}

	var result ReconcileResult
	now := e.now()

	// Snapshot of the keys that were mapped before this run; the phases
	// below add new entries that must not be swept in the same pass.
	mappedKeys := mapping.Keys()

	// New on the local side: create remotely, or link to an independently
	// added remote item with the same URL instead of duplicating it.
	for _, url := range sortedKeys(localByURL) {
		if _, mapped := mapping[url]; mapped {
			continue
		}
		item := localByURL[url]
		remote, onRemote := remoteByURL[url]
		if !onRemote {
			if err := e.throttle(ctx); err != nil {
				return ReconcileResult{}, err
			}
			created, err := e.remote.Create(ctx, item.URL, item.Title, PathToTags(e.syncTag, item.Path))
			if err != nil {
				runLog.Warn().Err(err).Str("url", url).Msg("remote create failed; skipping item")
				result.Errors++
				continue
			}
			mapping[url] = Entry{
				RemoteID:     created.ID,
				LocalID:      item.ID,
				Title:        item.Title,
				URL:          url,
				Path:         item.Path,
				LastSyncedAt: now,
			}
			result.Added++
			continue
		}

		merged := mergeSyncTags(e.syncTag, remote.Tags, item.Path)
		if !equalTagSets(remote.Tags, merged) {
			if err := e.throttle(ctx); err != nil {
				return ReconcileResult{}, err
			}
			updated, err := e.remote.Update(ctx, remote.ID, RemotePatch{Tags: &merged})
			if err != nil {
				runLog.Warn().Err(err).Str("url", url).Msg("remote link update failed; skipping item")
				result.Errors++
				continue
			}
			remote = updated
		}
		mapping[url] = Entry{
			RemoteID:     remote.ID,
			LocalID:      item.ID,
			Title:        remote.Title,
			URL:          url,
			Path:         item.Path,
			LastSyncedAt: now,
		}
		result.Added++
	}

	// New on the remote side: materialize locally at the decoded path. URLs
	// that also exist locally were already linked above.
	for _, url := range sortedKeys(remoteByURL) {
		if _, mapped := mapping[url]; mapped {
			continue
		}
		if _, onLocal := localByURL[url]; onLocal {
			continue
		}
		item := remoteByURL[url]
		path := TagsToPath(e.syncTag, item.Tags)
		folderID, err := e.local.EnsureFolderPath(ctx, e.rootID, path)
		if err != nil {
			runLog.Warn().Err(err).Str("url", url).Str("path", path).Msg("local folder creation failed; skipping item")
			result.Errors++
			continue
		}
		localID, err := e.local.Create(ctx, folderID, item.Title, item.URL)
		if err != nil {
			runLog.Warn().Err(err).Str("url", url).Msg("local create failed; skipping item")
			result.Errors++
			continue
		}
		mapping[url] = Entry{
			RemoteID:     item.ID,
			LocalID:      localID,
			Title:        item.Title,
			URL:          url,
			Path:         path,
			LastSyncedAt: now,
		}
		result.Added++
	}

	// Sweep the previously mapped entries: propagate deletions, resolve
	// divergence, refresh lastSyncedAt.
	for _, url := range mappedKeys {
		entry := mapping[url]
		local, onLocal := localByURL[url]
		remote, onRemote := remoteByURL[url]
		switch {
		case !onLocal && !onRemote:
			delete(mapping, url)
			result.Removed++

		case !onLocal && onRemote:
			// The local deletion is authoritative.
			if err := e.throttle(ctx); err != nil {
				return ReconcileResult{}, err
			}
			if err := e.remote.Delete(ctx, remote.ID); err != nil && !errors.Is(err, ErrNotFound) {
				runLog.Warn().Err(err).Str("url", url).Msg("remote delete failed; keeping entry for next run")
				result.Errors++
				continue
			}
			delete(mapping, url)
			result.Removed++

		case onLocal && !onRemote:
			// The remote deletion is authoritative.
			if err := e.local.Remove(ctx, local.ID); err != nil && !errors.Is(err, ErrNotFound) {
				runLog.Warn().Err(err).Str("url", url).Msg("local delete failed; keeping entry for next run")
				result.Errors++
				continue
			}
			delete(mapping, url)
			result.Removed++

		default:
			updated, err := e.reconcileBoth(ctx, runLog, entry, local, remote, mapping, &result)
			if err != nil {
				return ReconcileResult{}, err
			}
			if updated {
				result.Updated++
			}
		}
	}

	result.Total = len(mapping)
	if err := e.mapping.Save(mapping); err != nil {
		return ReconcileResult{}, fmt.Errorf("save mapping: %w", err)
	}
	runLog.Info().
		Int("added", result.Added).
		Int("removed", result.Removed).
		Int("updated", result.Updated).
		Int("errors", result.Errors).
		Int("total", result.Total).
		Msg("reconciliation complete")
	return result, nil
}

// reconcileBoth resolves one mapped entry present on both sides and applies
// the corrective writes to whichever side is stale. It reports whether any
// side actually changed. Per-item API failures leave the old entry in place
// so the next run retries the resolution.
func (e *Engine) reconcileBoth(ctx context.Context, runLog zerolog.Logger, entry Entry, local LocalItem, remote RemoteItem, mapping Mapping, result *ReconcileResult) (bool, error) {
	remotePath := TagsToPath(e.syncTag, remote.Tags)
	title := resolveTitle(entry, local, remote)
	path := resolvePath(entry, local.Path, remotePath)

	changed := false

	patch := RemotePatch{}
	if remote.Title != title {
		patch.Title = &title
	}
	if remotePath != path {
		merged := mergeSyncTags(e.syncTag, remote.Tags, path)
		patch.Tags = &merged
	}
	if patch.Title != nil || patch.Tags != nil {
		if err := e.throttle(ctx); err != nil {
			return false, err
		}
		if _, err := e.remote.Update(ctx, remote.ID, patch); err != nil {
			if errors.Is(err, ErrNotFound) {
				// Vanished mid-run; the next pass sees it as absent.
				runLog.Debug().Str("url", entry.URL).Msg("remote item vanished during update")
				return false, nil
			}
			runLog.Warn().Err(err).Str("url", entry.URL).Msg("remote update failed; keeping entry for next run")
			result.Errors++
			return false, nil
		}
		changed = true
	}

	if local.Title != title {
		if err := e.local.Update(ctx, local.ID, title); err != nil {
			if errors.Is(err, ErrNotFound) {
				runLog.Debug().Str("url", entry.URL).Msg("local item vanished during update")
				return false, nil
			}
			runLog.Warn().Err(err).Str("url", entry.URL).Msg("local update failed; keeping entry for next run")
			result.Errors++
			return false, nil
		}
		changed = true
	}
	if local.Path != path {
		folderID, err := e.local.EnsureFolderPath(ctx, e.rootID, path)
		if err == nil {
			err = e.local.Move(ctx, local.ID, folderID)
		}
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				runLog.Debug().Str("url", entry.URL).Msg("local item vanished during move")
				return false, nil
			}
			runLog.Warn().Err(err).Str("url", entry.URL).Msg("local move failed; keeping entry for next run")
			result.Errors++
			return false, nil
		}
		changed = true
	}

	mapping[entry.URL] = Entry{
		RemoteID:     remote.ID,
		LocalID:      local.ID,
		Title:        title,
		URL:          entry.URL,
		Path:         path,
		LastSyncedAt: e.now(),
	}
	return changed, nil
}
