package tagsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry is the last-known-reconciled state linking one URL across both
// stores. An entry's presence means the item existed on both sides as of
// LastSyncedAt; absence means "not yet reconciled", not "does not exist".
type Entry struct {
	RemoteID     int64     `json:"remoteId"`
	LocalID      string    `json:"localId"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Path         string    `json:"path"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
}

// Mapping is the persisted table of reconciled entries keyed by URL.
type Mapping map[string]Entry

// Keys returns the mapped URLs in sorted order.
func (m Mapping) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MappingStore persists the mapping table. Load returns a nil Mapping when
// nothing has ever been saved; Save replaces the whole table atomically.
type MappingStore interface {
	Load() (Mapping, error)
	Save(Mapping) error
}

type mappingSnapshot struct {
	Entries map[string]Entry `json:"entries"`
}

// JSONFileMappingStore keeps the mapping in a single JSON file, replaced
// atomically on save.
type JSONFileMappingStore struct {
	path string
}

func NewJSONFileMappingStore(path string) (*JSONFileMappingStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: mapping file path is required", ErrInvalidInput)
	}
	return &JSONFileMappingStore{path: path}, nil
}

func (s *JSONFileMappingStore) Load() (Mapping, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var snapshot mappingSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("corrupt mapping file %s: %w", s.path, err)
	}
	mapping := Mapping{}
	for key, entry := range snapshot.Entries {
		mapping[key] = entry
	}
	return mapping, nil
}

func (s *JSONFileMappingStore) Save(mapping Mapping) error {
	if mapping == nil {
		mapping = Mapping{}
	}
	data, err := json.MarshalIndent(mappingSnapshot{Entries: mapping}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(s.path, data, 0o644)
}

// InMemoryMappingStore backs the mapping with process memory. Useful for
// tests and the mirror mode, which never persists a mapping.
type InMemoryMappingStore struct {
	mu       sync.Mutex
	snapshot Mapping
}

func NewInMemoryMappingStore() *InMemoryMappingStore {
	return &InMemoryMappingStore{}
}

func (s *InMemoryMappingStore) Load() (Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil, nil
	}
	clone := Mapping{}
	for key, entry := range s.snapshot {
		clone[key] = entry
	}
	return clone, nil
}

func (s *InMemoryMappingStore) Save(mapping Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := Mapping{}
	for key, entry := range mapping {
		clone[key] = entry
	}
	s.snapshot = clone
	return nil
}

// BuildMappingStoreFromDSN selects a mapping store by DSN scheme: bare
// paths and file:// map to the JSON file store, memory:// to the in-memory
// store, postgres:// to the Postgres store.
func BuildMappingStoreFromDSN(dsn string) (MappingStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: mapping DSN is required", ErrInvalidInput)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(parsed.Scheme) {
	case "", "file":
		return NewJSONFileMappingStore(dsnFilePath(parsed, dsn))
	case "memory", "mem":
		return NewInMemoryMappingStore(), nil
	case "postgres", "postgresql":
		return NewPostgresMappingStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported mapping store scheme: %s", parsed.Scheme)
	}
}

func dsnFilePath(parsed *url.URL, raw string) string {
	if parsed.Scheme == "" {
		return raw
	}
	if parsed.Opaque != "" {
		return parsed.Opaque
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	return path
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
