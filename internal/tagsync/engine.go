package tagsync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultWriteDelay is the minimum pause between remote write calls within
// one run. It only needs to be large enough to stay under the remote
// service's rate limits.
const DefaultWriteDelay = 250 * time.Millisecond

// Engine runs initial syncs and incremental reconciliations against one
// remote store, one local tree and one mapping store. It is not safe for
// concurrent use; the Scheduler serializes access to it.
type Engine struct {
	remote  RemoteStore
	local   LocalStore
	mapping MappingStore

	syncTag    string
	rootID     string
	writeDelay time.Duration
	log        zerolog.Logger
	now        func() time.Time

	lastRemoteWrite time.Time
}

// EngineOptions configures an Engine. SyncTag and LocalRootID are required.
type EngineOptions struct {
	SyncTag     string
	LocalRootID string
	WriteDelay  time.Duration
	Logger      zerolog.Logger
	Now         func() time.Time
}

func NewEngine(remote RemoteStore, local LocalStore, mapping MappingStore, opts EngineOptions) (*Engine, error) {
	if remote == nil {
		return nil, fmt.Errorf("%w: remote store is required", ErrInvalidInput)
	}
	if local == nil {
		return nil, fmt.Errorf("%w: local store is required", ErrInvalidInput)
	}
	if mapping == nil {
		return nil, fmt.Errorf("%w: mapping store is required", ErrInvalidInput)
	}
	syncTag := strings.TrimSpace(opts.SyncTag)
	if syncTag == "" {
		return nil, fmt.Errorf("%w: sync tag is required", ErrInvalidInput)
	}
	if strings.Contains(syncTag, PathDelimiter) {
		return nil, fmt.Errorf("%w: sync tag must not contain %q", ErrInvalidInput, PathDelimiter)
	}
	rootID := strings.TrimSpace(opts.LocalRootID)
	if rootID == "" {
		return nil, fmt.Errorf("%w: local root id is required", ErrInvalidInput)
	}
	writeDelay := opts.WriteDelay
	if writeDelay < 0 {
		writeDelay = 0
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Engine{
		remote:     remote,
		local:      local,
		mapping:    mapping,
		syncTag:    syncTag,
		rootID:     rootID,
		writeDelay: writeDelay,
		log:        opts.Logger,
		now:        nowFn,
	}, nil
}

// fetchRemote lists all remote items carrying the sync tag, indexed by URL.
// When the remote store holds several live items with the same URL the
// first one wins; the URL is the cross-store content key and is assumed
// unique per side.
func (e *Engine) fetchRemote(ctx context.Context) (map[string]RemoteItem, error) {
	items, err := e.remote.ListByTag(ctx, e.syncTag)
	if err != nil {
		return nil, fmt.Errorf("list remote items: %w", err)
	}
	byURL := make(map[string]RemoteItem, len(items))
	for _, item := range items {
		if _, seen := byURL[item.URL]; seen {
			e.log.Warn().Str("url", item.URL).Msg("duplicate URL on remote side; keeping first")
			continue
		}
		byURL[item.URL] = item
	}
	return byURL, nil
}

// fetchLocal walks the local tree under the sync root, indexed by URL.
func (e *Engine) fetchLocal(ctx context.Context) (map[string]LocalItem, error) {
	items, err := e.local.ListChildrenRecursive(ctx, e.rootID)
	if err != nil {
		return nil, fmt.Errorf("list local items: %w", err)
	}
	byURL := make(map[string]LocalItem, len(items))
	for _, item := range items {
		if _, seen := byURL[item.URL]; seen {
			e.log.Warn().Str("url", item.URL).Msg("duplicate URL on local side; keeping first")
			continue
		}
		byURL[item.URL] = item
	}
	return byURL, nil
}

// throttle enforces the minimum inter-call delay before a remote write.
func (e *Engine) throttle(ctx context.Context) error {
	if e.writeDelay <= 0 {
		e.lastRemoteWrite = time.Now()
		return nil
	}
	elapsed := time.Since(e.lastRemoteWrite)
	if remaining := e.writeDelay - elapsed; remaining > 0 {
		if err := waitWithContext(ctx, remaining); err != nil {
			return err
		}
	}
	e.lastRemoteWrite = time.Now()
	return nil
}

// mergeSyncTags rewrites the sync-related tags of an item while preserving
// every foreign tag: any previous path tags and the sync tag itself are
// replaced by the encoding of path.
func mergeSyncTags(syncTag string, existing []string, path string) []string {
	prefix := syncTag + PathDelimiter
	merged := make([]string, 0, len(existing)+2)
	for _, tag := range existing {
		if tag == syncTag || strings.HasPrefix(tag, prefix) {
			continue
		}
		merged = append(merged, tag)
	}
	return append(merged, PathToTags(syncTag, path)...)
}

func equalTagSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func newRunID() string {
	return uuid.NewString()[:8]
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
