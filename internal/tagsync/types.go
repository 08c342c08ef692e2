package tagsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSyncInProgress is returned to manual requests that arrive while a
// reconciliation run is already active. Manual requests never queue.
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrNoMapping is returned by Reconcile when no mapping has ever been
// persisted. Run an initial sync first.
var ErrNoMapping = errors.New("no sync mapping; run initial sync first")

// ErrNotFound marks a referenced remote or local item that no longer
// exists. The reconciler folds it into the "absent" branches instead of
// surfacing it.
var ErrNotFound = errors.New("item not found")

var ErrInvalidInput = errors.New("invalid input")

// RemoteItem is one bookmark in the flat, tag-annotated remote store.
type RemoteItem struct {
	ID         int64
	URL        string
	Title      string
	Tags       []string
	ModifiedAt time.Time
}

// LocalItem is one bookmark in the hierarchical local tree, annotated with
// its folder path relative to the configured sync root ("" = root).
type LocalItem struct {
	ID      string
	URL     string
	Title   string
	Path    string
	AddedAt time.Time
}

// RemotePatch is a partial update of a remote item; nil fields are left
// untouched.
type RemotePatch struct {
	URL   *string
	Title *string
	Tags  *[]string
}

// RemoteStore is the capability interface for the remote bookmark API.
// ListByTag must return the full result set; pagination is the adapter's
// concern.
type RemoteStore interface {
	ListByTag(ctx context.Context, tag string) ([]RemoteItem, error)
	Create(ctx context.Context, url, title string, tags []string) (RemoteItem, error)
	Update(ctx context.Context, id int64, patch RemotePatch) (RemoteItem, error)
	Delete(ctx context.Context, id int64) error
}

// LocalStore is the capability interface for the hierarchical bookmark
// tree. Ids are opaque and stable. RemoveSubtree clears everything beneath
// the folder while keeping the folder itself; EnsureFolderPath is
// idempotent and creates missing segments.
type LocalStore interface {
	ListChildrenRecursive(ctx context.Context, rootID string) ([]LocalItem, error)
	Create(ctx context.Context, parentID, title, url string) (string, error)
	Move(ctx context.Context, id, newParentID string) error
	Update(ctx context.Context, id, title string) error
	Remove(ctx context.Context, id string) error
	RemoveSubtree(ctx context.Context, folderID string) error
	EnsureFolderPath(ctx context.Context, rootID, path string) (string, error)
}

// InitialMode selects the bootstrap strategy used when no mapping exists.
type InitialMode string

const (
	// ModePush uploads local bookmarks to the remote store. No local
	// mutation, no deletions.
	ModePush InitialMode = "push"
	// ModePull wipes the local sync root and recreates it from the remote
	// store.
	ModePull InitialMode = "pull"
	// ModeMerge combines both sides, pushing local-only items, pulling
	// remote-only items and resolving overlaps.
	ModeMerge InitialMode = "merge"
)

// ParseInitialMode maps a user-supplied mode name to an InitialMode.
func ParseInitialMode(raw string) (InitialMode, error) {
	switch InitialMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModePush:
		return ModePush, nil
	case ModePull:
		return ModePull, nil
	case ModeMerge:
		return ModeMerge, nil
	default:
		return "", fmt.Errorf("%w: unknown initial sync mode %q", ErrInvalidInput, raw)
	}
}

// InitialResult summarizes one initial sync run.
type InitialResult struct {
	Added      int // remote items created
	Updated    int // remote items adjusted in place
	Downloaded int // local items created
	Errors     int // items skipped after an API failure
	Total      int // mapping entries persisted
}

// ReconcileResult summarizes one incremental reconciliation run.
type ReconcileResult struct {
	Added   int
	Removed int
	Updated int
	Errors  int
	Total   int
}
