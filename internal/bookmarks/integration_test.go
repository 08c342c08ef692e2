package bookmarks_test

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/klppl/linkding-sync/internal/bookmarks"
	"github.com/klppl/linkding-sync/internal/tagsync"
)

// stubRemote is a minimal in-memory RemoteStore for driving the engine
// against a real file-backed tree.
type stubRemote struct {
	nextID int64
	items  map[int64]tagsync.RemoteItem
}

func newStubRemote() *stubRemote {
	return &stubRemote{items: map[int64]tagsync.RemoteItem{}}
}

func (r *stubRemote) add(url, title string, tags []string) {
	r.nextID++
	r.items[r.nextID] = tagsync.RemoteItem{ID: r.nextID, URL: url, Title: title, Tags: tags}
}

func (r *stubRemote) ListByTag(ctx context.Context, tag string) ([]tagsync.RemoteItem, error) {
	var out []tagsync.RemoteItem
	for _, item := range r.items {
		for _, t := range item.Tags {
			if t == tag || strings.HasPrefix(t, tag+"/") {
				out = append(out, item)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *stubRemote) Create(ctx context.Context, url, title string, tags []string) (tagsync.RemoteItem, error) {
	r.nextID++
	item := tagsync.RemoteItem{ID: r.nextID, URL: url, Title: title, Tags: tags}
	r.items[item.ID] = item
	return item, nil
}

func (r *stubRemote) Update(ctx context.Context, id int64, patch tagsync.RemotePatch) (tagsync.RemoteItem, error) {
	item, ok := r.items[id]
	if !ok {
		return tagsync.RemoteItem{}, tagsync.ErrNotFound
	}
	if patch.URL != nil {
		item.URL = *patch.URL
	}
	if patch.Title != nil {
		item.Title = *patch.Title
	}
	if patch.Tags != nil {
		item.Tags = *patch.Tags
	}
	r.items[id] = item
	return item, nil
}

func (r *stubRemote) Delete(ctx context.Context, id int64) error {
	if _, ok := r.items[id]; !ok {
		return tagsync.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func TestEngineAgainstFileBackedTree(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bookmarks.json")
	store, err := bookmarks.Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	remote := newStubRemote()
	remote.add("https://a.test", "A", []string{"sync"})
	remote.add("https://b.test", "B", []string{"sync", "sync/Work/Deep"})

	engine, err := tagsync.NewEngine(remote, store, tagsync.NewInMemoryMappingStore(), tagsync.EngineOptions{
		SyncTag:     "sync",
		LocalRootID: bookmarks.RootID,
		Logger:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}

	result, err := engine.InitialSync(ctx, tagsync.ModePull)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if result.Downloaded != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	items, err := store.ListChildrenRecursive(ctx, bookmarks.RootID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	paths := map[string]string{}
	for _, item := range items {
		paths[item.URL] = item.Path
	}
	if paths["https://a.test"] != "" || paths["https://b.test"] != "Work/Deep" {
		t.Fatalf("unexpected layout: %v", paths)
	}

	// A local edit on the persisted tree flows back out on the next run.
	var localB string
	for _, item := range items {
		if item.URL == "https://b.test" {
			localB = item.ID
		}
	}
	if err := store.Update(ctx, localB, "B renamed"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	recon, err := engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if recon.Updated != 1 {
		t.Fatalf("unexpected result: %+v", recon)
	}
	for _, item := range remote.items {
		if item.URL == "https://b.test" && item.Title != "B renamed" {
			t.Fatalf("expected the rename to reach the remote side, got %q", item.Title)
		}
	}

	// The tree survives a reload with the mapping still lining up.
	reloaded, err := bookmarks.Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	items, err = reloaded.ListChildrenRecursive(ctx, bookmarks.RootID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items after reload, got %d", len(items))
	}
}
