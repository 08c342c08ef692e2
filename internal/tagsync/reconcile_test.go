package tagsync

import (
	"context"
	"errors"
	"testing"
	"time"
)

var reconcileBase = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// seedMapped puts one already-reconciled bookmark on both sides and into the
// mapping, returning the remote and local copies.
func seedMapped(t *testing.T, remote *fakeRemote, local *fakeLocal, store MappingStore, url, title, path string) (RemoteItem, LocalItem) {
	t.Helper()
	remoteItem := remote.add(url, title, PathToTags("sync", path), time.Time{})
	localItem := local.add(path, title, url, reconcileBase.Add(-time.Hour))
	mapping, err := store.Load()
	if err != nil {
		t.Fatalf("load mapping failed: %v", err)
	}
	if mapping == nil {
		mapping = Mapping{}
	}
	mapping[url] = Entry{
		RemoteID:     remoteItem.ID,
		LocalID:      localItem.ID,
		Title:        title,
		URL:          url,
		Path:         path,
		LastSyncedAt: reconcileBase,
	}
	if err := store.Save(mapping); err != nil {
		t.Fatalf("save mapping failed: %v", err)
	}
	return remoteItem, localItem
}

func TestReconcileRequiresMapping(t *testing.T) {
	engine := newTestEngine(t, newFakeRemote(), newFakeLocal(), NewInMemoryMappingStore())
	if _, err := engine.Reconcile(context.Background()); !errors.Is(err, ErrNoMapping) {
		t.Fatalf("expected ErrNoMapping, got %v", err)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	remote := newFakeRemote()
	local := newFakeLocal()
	store := NewInMemoryMappingStore()
	engine := newTestEngine(t, remote, local, store)
	seedMapped(t, remote, local, store, "https://a.test", "A", "Work")

	result, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Added != 0 || result.Removed != 0 || result.Updated != 0 || result.Errors != 0 {
		t.Fatalf("expected a no-op run, got %+v", result)
	}
	if remote.creates != 0 || remote.updates != 0 || remote.deletes != 0 {
		t.Fatalf("expected no remote writes: creates=%d updates=%d deletes=%d", remote.creates, remote.updates, remote.deletes)
	}
}

func TestReconcileCreatesRemoteForNewLocal(t *testing.T) {
	remote := newFakeRemote()
	local := newFakeLocal()
	store := NewInMemoryMappingStore()
	engine := newTestEngine(t, remote, local, store)
	if err := store.Save(Mapping{}); err != nil {
		t.Fatalf("save mapping failed: %v", err)
	}

	local.add("Work/Deep", "New", "https://new.test", time.Now())

	result, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Added != 1 || result.Total != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	created, ok := remote.byURL("https://new.test")
	if !ok || !equalTagSets(created.Tags, []string{"sync", "sync/Work/Deep"}) {
		t.Fatalf("unexpected created item: %+v", created)
	}
}

func TestReconcileLinksInsteadOfDuplicating(t *testing.T) {
	remote := newFakeRemote()
	local := newFakeLocal()
	store := NewInMemoryMappingStore()
	engine := newTestEngine(t, remote, local, store)
	if err := store.Save(Mapping{}); err != nil {
		t.Fatalf("save mapping failed: %v", err)
	}

	// The same URL was added independently on both sides since the last run.
	remote.add("https://both.test", "Remote Title", []string{"sync", "keep"}, time.Time{})
	local.add("Work", "Local Title", "https://both.test", time.Now())

	result, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Added != 1 || result.Total != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if remote.creates != 0 {
		t.Fatalf("expected no remote create, got %d", remote.creates)
	}
	linked, _ := remote.byURL("https://both.test")
	if !equalTagSets(linked.Tags, []string{"keep", "sync", "sync/Work"}) {
		t.Fatalf("unexpected linked tags: %v", linked.Tags)
	}

	mapping, err := store.Load()
	if err != nil {
		t.Fatalf("load mapping failed: %v", err)
	}
	if len(mapping) != 1 {
		t.Fatalf("expected a single entry, got %d", len(mapping))
	}
	if mapping["https://both.test"].Title != "Remote Title" {
		t.Fatalf("expected the entry to remember the remote title, got %q", mapping["https://both.test"].Title)
	}
}

func TestReconcileDownloadsNewRemote(t *testing.T) {
	remote := newFakeRemote()
	local := newFakeLocal()
	store := NewInMemoryMappingStore()
	engine := newTestEngine(t, remote, local, store)
	if err := store.Save(Mapping{}); err != nil {
		t.Fatalf("save mapping failed: %v", err)
	}

	remote.add("https://new.test", "New", []string{"sync", "sync/Work/Deep"}, time.Time{})

	result, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Added != 1 || result.Total != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	item, ok := local.byURL("https://new.test")
	if !ok || item.Path != "Work/Deep" {
		t.Fatalf("unexpected local item: %+v", item)
	}
}

func TestReconcilePropagatesLocalDeletion(t *testing.T) {
	remote := newFakeRemote()
	local := newFakeLocal()
	store := NewInMemoryMappingStore()
	engine := newTestEngine(t, remote, local, store)
	_, localItem := seedMapped(t, remote, local, store, "https://a.test", "A", "Work")

	if err := local.Remove(context.Background(), localItem.ID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	result, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Removed != 1 || result.Total != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(remote.items) != 0 {
		t.Fatalf("expected remote item to be deleted, %d left", len(remote.items))
	}
}

func TestReconcilePropagatesRemoteDeletion(t *testing.T) {
	remote := newFakeRemote()
	local := newFakeLocal()
	store := NewInMemoryMappingStore()
	engine := newTestEngine(t, remote, local, store)
	remoteItem, _ := seedMapped(t, remote, local, store, "https://a.test", "A", "Work")

	if err := remote.Delete(context.Background(), remoteItem.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	remote.resetCounters()

	result, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Removed != 1 || result.Total != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(local.items) != 0 {
		t.Fatalf("expected local item to be removed, %d left", len(local.items))
	}
}

func TestReconcileDropsEntryWhenBothSidesGone(t *testing.T) {
	remote := newFakeRemote()
	local := newFakeLocal()
	store := NewInMemoryMappingStore()
	engine := newTestEngine(t, remote, local, store)
	remoteItem, localItem := seedMapped(t, remote, local, store, "https://a.test", "A", "")

	delete(remote.items, remoteItem.ID)
	delete(local.items, localItem.ID)
	remote.resetCounters()

	result, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Removed != 1 || result.Total != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if remote.deletes != 0 {
		t.Fatalf("expected no remote delete calls, got %d", remote.deletes)
	}
}

func TestReconcileBothMovedLocalPathWins(t *testing.T) {
	remote := newFakeRemote()
	local := newFakeLocal()
	store := NewInMemoryMappingStore()
	engine := newTestEngine(t, remote, local, store)
	remoteItem, localItem := seedMapped(t, remote, local, store, "https://a.test", "A", "Work")

	// Both sides moved the bookmark since the last run.
	if _, err := local.EnsureFolderPath(context.Background(), fakeRootID, "Personal"); err != nil {
		t.Fatalf("ensure folder failed: %v", err)
	}
	if err := local.Move(context.Background(), localItem.ID, fakeRootID+"Personal"); err != nil {
		t.Fatalf("move failed: %v", err)
	}
	item := remote.items[remoteItem.ID]
	item.Tags = []string{"sync", "sync/Archive"}
	remote.items[remoteItem.ID] = item

	result, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	moved := remote.items[remoteItem.ID]
	if !equalTagSets(moved.Tags, []string{"sync", "sync/Personal"}) {
		t.Fatalf("expected remote tags to follow the local move, got %v", moved.Tags)
	}
	if got := local.items[localItem.ID].Path; got != "Personal" {
		t.Fatalf("expected local bookmark to stay in Personal, got %q", got)
	}

	mapping, err := store.Load()
	if err != nil {
		t.Fatalf("load mapping failed: %v", err)
	}
	if mapping["https://a.test"].Path != "Personal" {
		t.Fatalf("unexpected entry path %q", mapping["https://a.test"].Path)
	}
}

func TestReconcileRemoteMoveAppliesLocally(t *testing.T) {
	remote := newFakeRemote()
	local := newFakeLocal()
	store := NewInMemoryMappingStore()
	engine := newTestEngine(t, remote, local, store)
	remoteItem, localItem := seedMapped(t, remote, local, store, "https://a.test", "A", "Work")

	item := remote.items[remoteItem.ID]
	item.Tags = []string{"sync", "sync/Archive/2024"}
	remote.items[remoteItem.ID] = item
	remote.resetCounters()

	result, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if remote.updates != 0 {
		t.Fatalf("expected no remote writes, got %d updates", remote.updates)
	}
	if got := local.items[localItem.ID].Path; got != "Archive/2024" {
		t.Fatalf("expected local bookmark under Archive/2024, got %q", got)
	}
}

func TestReconcileTitleConflictRemoteNewerWins(t *testing.T) {
	remote := newFakeRemote()
	local := newFakeLocal()
	store := NewInMemoryMappingStore()
	engine := newTestEngine(t, remote, local, store)
	remoteItem, localItem := seedMapped(t, remote, local, store, "https://a.test", "A", "Work")

	localCopy := local.items[localItem.ID]
	localCopy.Title = "Local Edit"
	local.items[localItem.ID] = localCopy
	remoteCopy := remote.items[remoteItem.ID]
	remoteCopy.Title = "Remote Edit"
	remoteCopy.ModifiedAt = reconcileBase.Add(time.Minute)
	remote.items[remoteItem.ID] = remoteCopy
	remote.resetCounters()

	result, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if remote.updates != 0 {
		t.Fatalf("remote already holds the winning title, got %d updates", remote.updates)
	}
	if got := local.items[localItem.ID].Title; got != "Remote Edit" {
		t.Fatalf("expected remote title to win, got %q", got)
	}
}

func TestReconcileTitleConflictWithoutTimestampLocalWins(t *testing.T) {
	remote := newFakeRemote()
	local := newFakeLocal()
	store := NewInMemoryMappingStore()
	engine := newTestEngine(t, remote, local, store)
	remoteItem, localItem := seedMapped(t, remote, local, store, "https://a.test", "A", "Work")

	localCopy := local.items[localItem.ID]
	localCopy.Title = "Local Edit"
	local.items[localItem.ID] = localCopy
	remoteCopy := remote.items[remoteItem.ID]
	remoteCopy.Title = "Remote Edit"
	remote.items[remoteItem.ID] = remoteCopy

	if _, err := engine.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if got := remote.items[remoteItem.ID].Title; got != "Local Edit" {
		t.Fatalf("expected local title to win, got %q", got)
	}
}

func TestReconcileKeepsEntryAfterFailedRemoteDelete(t *testing.T) {
	remote := newFakeRemote()
	local := newFakeLocal()
	store := NewInMemoryMappingStore()
	engine := newTestEngine(t, remote, local, store)
	_, localItem := seedMapped(t, remote, local, store, "https://a.test", "A", "Work")

	if err := local.Remove(context.Background(), localItem.ID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	remote.deleteErr = errors.New("boom")

	result, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Errors != 1 || result.Removed != 0 || result.Total != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	mapping, err := store.Load()
	if err != nil {
		t.Fatalf("load mapping failed: %v", err)
	}
	if _, ok := mapping["https://a.test"]; !ok {
		t.Fatalf("expected the entry to survive for the next run")
	}
}
