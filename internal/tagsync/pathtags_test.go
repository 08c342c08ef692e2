package tagsync

import (
	"reflect"
	"testing"
)

func TestPathToTagsRootCarriesOnlySyncTag(t *testing.T) {
	got := PathToTags("sync", "")
	want := []string{"sync"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestPathToTagsNestedPath(t *testing.T) {
	got := PathToTags("sync", "Work/Projects")
	want := []string{"sync", "sync/Work/Projects"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestTagsToPathIgnoresForeignTags(t *testing.T) {
	got := TagsToPath("sync", []string{"reading", "sync", "sync/Work", "golang"})
	if got != "Work" {
		t.Fatalf("expected 'Work', got %q", got)
	}
}

func TestTagsToPathLongestTagWins(t *testing.T) {
	got := TagsToPath("sync", []string{"sync/Work", "sync/Work/Projects", "sync"})
	if got != "Work/Projects" {
		t.Fatalf("expected 'Work/Projects', got %q", got)
	}
}

func TestTagsToPathTieKeepsFirstEncountered(t *testing.T) {
	got := TagsToPath("sync", []string{"sync/aa", "sync/bb"})
	if got != "aa" {
		t.Fatalf("expected first-encountered 'aa', got %q", got)
	}
}

func TestTagsToPathNoPathTagMeansRoot(t *testing.T) {
	if got := TagsToPath("sync", []string{"sync", "other"}); got != "" {
		t.Fatalf("expected root path, got %q", got)
	}
	if got := TagsToPath("sync", nil); got != "" {
		t.Fatalf("expected root path for no tags, got %q", got)
	}
}

func TestPathTagRoundTrip(t *testing.T) {
	paths := []string{"", "Work", "Work/Projects", "a/b/c/d", "Spaces In Names/ok"}
	for _, path := range paths {
		if got := TagsToPath("sync", PathToTags("sync", path)); got != path {
			t.Fatalf("round trip failed for %q: got %q", path, got)
		}
	}
}

func TestSplitJoinPath(t *testing.T) {
	if got := SplitPath(""); got != nil {
		t.Fatalf("expected no segments for empty path, got %v", got)
	}
	segments := SplitPath("a/b/c")
	if !reflect.DeepEqual(segments, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected segments: %v", segments)
	}
	if got := JoinPath(segments); got != "a/b/c" {
		t.Fatalf("expected 'a/b/c', got %q", got)
	}
}
