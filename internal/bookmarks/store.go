// Package bookmarks implements the local-store adapter: a hierarchical
// bookmark tree persisted in a single JSON file.
package bookmarks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/klppl/linkding-sync/internal/tagsync"
)

// RootID is the id of the always-present tree root.
const RootID = "root"

type nodeKind string

const (
	kindFolder   nodeKind = "folder"
	kindBookmark nodeKind = "bookmark"
)

// node is one tree entry. Nodes are kept in an arena keyed by id; sibling
// order is the order of appearance in the persisted node list.
type node struct {
	ID       string    `json:"id"`
	ParentID string    `json:"parentId,omitempty"`
	Kind     nodeKind  `json:"kind"`
	Title    string    `json:"title"`
	URL      string    `json:"url,omitempty"`
	AddedAt  time.Time `json:"addedAt"`
}

type treeFile struct {
	Nodes []*node `json:"nodes"`
}

// Store is a file-backed bookmark tree implementing tagsync.LocalStore.
// Every mutation is persisted immediately with an atomic file replace, so
// concurrent readers of the file never observe a partial write.
type Store struct {
	path string

	mu       sync.Mutex
	nodes    map[string]*node
	children map[string][]string
	now      func() time.Time
	newID    func() string
}

// Open loads the tree from path, creating an empty tree with just the root
// when the file does not exist yet.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: bookmarks file path is required", tagsync.ErrInvalidInput)
	}
	s := &Store{
		path:  path,
		now:   time.Now,
		newID: uuid.NewString,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// FilePath returns the backing file path, for the change watcher.
func (s *Store) FilePath() string {
	return s.path
}

func (s *Store) load() error {
	s.nodes = map[string]*node{}
	s.children = map[string][]string{}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.ensureRootLocked()
			return nil
		}
		return err
	}
	var file treeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("corrupt bookmarks file %s: %w", s.path, err)
	}
	for _, n := range file.Nodes {
		if n == nil || n.ID == "" {
			continue
		}
		s.nodes[n.ID] = n
		if n.ID != RootID {
			s.children[n.ParentID] = append(s.children[n.ParentID], n.ID)
		}
	}
	s.ensureRootLocked()
	return nil
}

func (s *Store) ensureRootLocked() {
	if _, ok := s.nodes[RootID]; !ok {
		s.nodes[RootID] = &node{ID: RootID, Kind: kindFolder, Title: "", AddedAt: s.nowOr()}
	}
}

func (s *Store) nowOr() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Store) saveLocked() error {
	file := treeFile{Nodes: make([]*node, 0, len(s.nodes))}
	// Depth-first order preserves sibling order across reloads.
	var walk func(id string)
	walk = func(id string) {
		n, ok := s.nodes[id]
		if !ok {
			return
		}
		file.Nodes = append(file.Nodes, n)
		for _, childID := range s.children[id] {
			walk(childID)
		}
	}
	walk(RootID)

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(s.path, data, 0o644)
}

// ListChildrenRecursive returns every bookmark beneath rootID, annotated
// with its folder path relative to rootID ("" for direct children).
func (s *Store) ListChildrenRecursive(_ context.Context, rootID string) ([]tagsync.LocalItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, ok := s.nodes[rootID]
	if !ok || root.Kind != kindFolder {
		return nil, fmt.Errorf("%w: folder %s", tagsync.ErrNotFound, rootID)
	}

	var items []tagsync.LocalItem
	var walk func(id string, segments []string)
	walk = func(id string, segments []string) {
		for _, childID := range s.children[id] {
			child, ok := s.nodes[childID]
			if !ok {
				continue
			}
			switch child.Kind {
			case kindBookmark:
				items = append(items, tagsync.LocalItem{
					ID:      child.ID,
					URL:     child.URL,
					Title:   child.Title,
					Path:    tagsync.JoinPath(segments),
					AddedAt: child.AddedAt,
				})
			case kindFolder:
				walk(childID, append(segments, child.Title))
			}
		}
	}
	walk(rootID, nil)
	return items, nil
}

// Create adds a bookmark under parentID and returns its id.
func (s *Store) Create(_ context.Context, parentID, title, url string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.nodes[parentID]
	if !ok || parent.Kind != kindFolder {
		return "", fmt.Errorf("%w: folder %s", tagsync.ErrNotFound, parentID)
	}
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("%w: bookmark url is required", tagsync.ErrInvalidInput)
	}
	n := &node{
		ID:       s.newID(),
		ParentID: parentID,
		Kind:     kindBookmark,
		Title:    title,
		URL:      url,
		AddedAt:  s.nowOr(),
	}
	s.nodes[n.ID] = n
	s.children[parentID] = append(s.children[parentID], n.ID)
	if err := s.saveLocked(); err != nil {
		s.detachLocked(n.ID)
		delete(s.nodes, n.ID)
		return "", err
	}
	return n.ID, nil
}

// Move reparents a node under newParentID.
func (s *Store) Move(_ context.Context, id, newParentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok || id == RootID {
		return fmt.Errorf("%w: node %s", tagsync.ErrNotFound, id)
	}
	parent, ok := s.nodes[newParentID]
	if !ok || parent.Kind != kindFolder {
		return fmt.Errorf("%w: folder %s", tagsync.ErrNotFound, newParentID)
	}
	if n.Kind == kindFolder && s.isDescendantLocked(newParentID, id) {
		return fmt.Errorf("%w: cannot move folder %s into its own subtree", tagsync.ErrInvalidInput, id)
	}
	if n.ParentID == newParentID {
		return nil
	}
	s.detachLocked(id)
	n.ParentID = newParentID
	s.children[newParentID] = append(s.children[newParentID], id)
	return s.saveLocked()
}

// Update renames a node.
func (s *Store) Update(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: node %s", tagsync.ErrNotFound, id)
	}
	if n.Title == title {
		return nil
	}
	n.Title = title
	return s.saveLocked()
}

// Remove deletes a node; folders are removed together with their contents.
func (s *Store) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; !ok || id == RootID {
		return fmt.Errorf("%w: node %s", tagsync.ErrNotFound, id)
	}
	s.detachLocked(id)
	s.removeRecursiveLocked(id)
	return s.saveLocked()
}

// RemoveSubtree clears everything beneath folderID while keeping the folder
// itself.
func (s *Store) RemoveSubtree(_ context.Context, folderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	folder, ok := s.nodes[folderID]
	if !ok || folder.Kind != kindFolder {
		return fmt.Errorf("%w: folder %s", tagsync.ErrNotFound, folderID)
	}
	for _, childID := range append([]string(nil), s.children[folderID]...) {
		s.removeRecursiveLocked(childID)
	}
	delete(s.children, folderID)
	return s.saveLocked()
}

// EnsureFolderPath walks path below rootID, creating missing folder
// segments, and returns the id of the final folder. It is idempotent; all
// folder creation within a run is serialized by the store lock so repeated
// calls cannot race into duplicate folders.
func (s *Store) EnsureFolderPath(_ context.Context, rootID, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.nodes[rootID]
	if !ok || current.Kind != kindFolder {
		return "", fmt.Errorf("%w: folder %s", tagsync.ErrNotFound, rootID)
	}
	currentID := rootID
	dirty := false
	for _, segment := range tagsync.SplitPath(path) {
		nextID := ""
		for _, childID := range s.children[currentID] {
			child, ok := s.nodes[childID]
			if ok && child.Kind == kindFolder && child.Title == segment {
				nextID = childID
				break
			}
		}
		if nextID == "" {
			n := &node{
				ID:       s.newID(),
				ParentID: currentID,
				Kind:     kindFolder,
				Title:    segment,
				AddedAt:  s.nowOr(),
			}
			s.nodes[n.ID] = n
			s.children[currentID] = append(s.children[currentID], n.ID)
			nextID = n.ID
			dirty = true
		}
		currentID = nextID
	}
	if dirty {
		if err := s.saveLocked(); err != nil {
			return "", err
		}
	}
	return currentID, nil
}

func (s *Store) detachLocked(id string) {
	n, ok := s.nodes[id]
	if !ok {
		return
	}
	siblings := s.children[n.ParentID]
	for i, siblingID := range siblings {
		if siblingID == id {
			s.children[n.ParentID] = append(siblings[:i:i], siblings[i+1:]...)
			break
		}
	}
}

func (s *Store) removeRecursiveLocked(id string) {
	for _, childID := range s.children[id] {
		s.removeRecursiveLocked(childID)
	}
	delete(s.children, id)
	delete(s.nodes, id)
}

func (s *Store) isDescendantLocked(id, ancestorID string) bool {
	for id != "" && id != RootID {
		n, ok := s.nodes[id]
		if !ok {
			return false
		}
		if n.ParentID == ancestorID {
			return true
		}
		id = n.ParentID
	}
	return false
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
