// Package manifest owns the durable per-file sync state: which destination
// files have been copied, the content hashes recorded at copy time, and the
// last-synced source commit. Persistence is a single JSON document written
// atomically; schema problems are repaired on load rather than surfaced.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// SchemaVersion is the manifest document version written by this build.
const SchemaVersion = "1.0.0"

// Entry records the sync state of one destination file. Entries exist only
// for files that have been successfully copied at least once.
type Entry struct {
	SyncedAt    time.Time `json:"syncedAt"`
	SourceHash  string    `json:"sourceHash"`
	DestHash    string    `json:"destHash"`
	Transformed bool      `json:"transformed"`
}

// LastSync records the source commit the destination tree was last synced to.
type LastSync struct {
	Commit  string    `json:"commit"`
	Date    time.Time `json:"date"`
	Version string    `json:"version,omitempty"`
}

// Manifest is the persisted document.
type Manifest struct {
	Version  string           `json:"version"`
	LastSync *LastSync        `json:"lastSync"`
	Files    map[string]Entry `json:"files"`
}

// FileState is the hash state recorded when a file is copied.
type FileState struct {
	SourceHash  string
	DestHash    string
	Transformed bool
}

// Status partitions a set of destination paths by their sync state.
type Status struct {
	NeedsSync []string
	Unchanged []string
	NewFiles  []string
}

// Store is the manifest contract the sync engine depends on. Mutations are
// in-memory; Save persists the whole document exactly once per run.
type Store interface {
	UpdateFile(path string, state FileState) Entry
	FileStatus(path string) (Entry, bool)
	HasSourceChanged(path, newHash string) (changed bool, lastHash string)
	RemoveFile(path string) bool
	TrackedFiles() []string
	LastSync() *LastSync
	SetLastSync(ls LastSync)
	Reset()
	Save() error
	SyncStatus(paths []string, hashFn func(path string) (string, error)) (Status, error)
}

// FileStore implements Store backed by a JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
	m    *Manifest

	// now is swapped out in tests for deterministic timestamps.
	now func() time.Time
}

// Load reads the manifest at path. A missing file yields an empty manifest;
// a malformed one is repaired (or replaced) instead of failing, favoring
// forward progress over strict validation.
func Load(path string) (*FileStore, error) {
	store := &FileStore{path: path, now: time.Now}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			store.m = emptyManifest()
			return store, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		store.m = emptyManifest()
		return store, nil
	}

	store.m = validateAndMigrate(&m)
	return store, nil
}

func emptyManifest() *Manifest {
	return &Manifest{
		Version: SchemaVersion,
		Files:   make(map[string]Entry),
	}
}

// validateAndMigrate drops file entries missing required fields and resets
// a malformed lastSync to null.
func validateAndMigrate(m *Manifest) *Manifest {
	if m.Version == "" {
		m.Version = SchemaVersion
	}
	if m.Files == nil {
		m.Files = make(map[string]Entry)
	}

	for path, entry := range m.Files {
		if entry.SourceHash == "" || entry.DestHash == "" || entry.SyncedAt.IsZero() {
			delete(m.Files, path)
		}
	}

	if m.LastSync != nil && (m.LastSync.Commit == "" || m.LastSync.Date.IsZero()) {
		m.LastSync = nil
	}
	return m
}

// Save writes the manifest atomically: a temp file in the target directory
// followed by a rename, so an interrupted process never leaves a
// half-written manifest behind.
func (s *FileStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(s.m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".vendsync-manifest-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, s.path)
}

// UpdateFile upserts the entry for a destination path, stamping syncedAt.
func (s *FileStore) UpdateFile(path string, state FileState) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := Entry{
		SyncedAt:    s.now().UTC(),
		SourceHash:  state.SourceHash,
		DestHash:    state.DestHash,
		Transformed: state.Transformed,
	}
	s.m.Files[path] = entry
	return entry
}

// FileStatus returns the entry for a destination path, if tracked.
func (s *FileStore) FileStatus(path string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.m.Files[path]
	return entry, ok
}

// HasSourceChanged reports whether the source content behind a destination
// path differs from the last recorded sync. Untracked paths count as
// changed.
func (s *FileStore) HasSourceChanged(path, newHash string) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.m.Files[path]
	if !ok {
		return true, ""
	}
	return entry.SourceHash != newHash, entry.SourceHash
}

// RemoveFile deletes the entry for a destination path, returning true only
// if an entry existed.
func (s *FileStore) RemoveFile(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.m.Files[path]; !ok {
		return false
	}
	delete(s.m.Files, path)
	return true
}

// TrackedFiles returns all tracked destination paths, sorted.
func (s *FileStore) TrackedFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := make([]string, 0, len(s.m.Files))
	for path := range s.m.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// LastSync returns the last-synced commit record, or nil before the first
// successful sync.
func (s *FileStore) LastSync() *LastSync {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.m.LastSync == nil {
		return nil
	}
	ls := *s.m.LastSync
	return &ls
}

// SetLastSync records the commit the destination tree now reflects. A zero
// date defaults to now.
func (s *FileStore) SetLastSync(ls LastSync) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ls.Date.IsZero() {
		ls.Date = s.now().UTC()
	}
	s.m.LastSync = &ls
}

// Reset clears all tracked files and the last sync record, forcing the next
// run to behave as a first sync.
func (s *FileStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m.Files = make(map[string]Entry)
	s.m.LastSync = nil
}

// SyncStatus partitions paths into needs-sync, unchanged, and new files by
// comparing current hashes against recorded source hashes. Read-only.
func (s *FileStore) SyncStatus(paths []string, hashFn func(path string) (string, error)) (Status, error) {
	var status Status
	for _, path := range paths {
		entry, tracked := s.FileStatus(path)
		if !tracked {
			status.NewFiles = append(status.NewFiles, path)
			continue
		}

		hash, err := hashFn(path)
		if err != nil {
			return Status{}, fmt.Errorf("failed to hash %s: %w", path, err)
		}
		if hash != entry.SourceHash {
			status.NeedsSync = append(status.NeedsSync, path)
		} else {
			status.Unchanged = append(status.Unchanged, path)
		}
	}
	return status, nil
}

// ComputeHash returns the SHA256 hex digest of content. Identical bytes
// always yield identical output.
func ComputeHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
