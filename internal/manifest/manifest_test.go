package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := Load(filepath.Join(t.TempDir(), "manifest.json"))
	require.NoError(t, err)
	return store
}

func TestLoad_MissingFile(t *testing.T) {
	store := newTestStore(t)

	assert.Nil(t, store.LastSync())
	assert.Empty(t, store.TrackedFiles())
}

func TestLoad_CorruptJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	store, err := Load(path)
	require.NoError(t, err, "corruption must not surface as an error")
	assert.Empty(t, store.TrackedFiles())
	assert.Nil(t, store.LastSync())
}

func TestLoad_DropsMalformedEntries(t *testing.T) {
	doc := `{
		"version": "1.0.0",
		"lastSync": {"commit": "", "date": "0001-01-01T00:00:00Z"},
		"files": {
			"good.md": {"syncedAt": "2026-01-02T03:04:05Z", "sourceHash": "aa", "destHash": "bb", "transformed": false},
			"missing-hash.md": {"syncedAt": "2026-01-02T03:04:05Z", "sourceHash": "", "destHash": "bb"},
			"missing-time.md": {"sourceHash": "aa", "destHash": "bb"}
		}
	}`
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	store, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"good.md"}, store.TrackedFiles())
	assert.Nil(t, store.LastSync(), "malformed lastSync must be reset to null")
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "manifest.json")
	store, err := Load(path)
	require.NoError(t, err)

	store.UpdateFile(".claude/agents/x.md", FileState{SourceHash: "aa", DestHash: "aa"})
	store.SetLastSync(LastSync{Commit: "abc123", Version: "v1.2.0"})
	require.NoError(t, store.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)

	entry, ok := reloaded.FileStatus(".claude/agents/x.md")
	require.True(t, ok)
	assert.Equal(t, "aa", entry.SourceHash)
	assert.Equal(t, "aa", entry.DestHash)
	assert.False(t, entry.Transformed)

	ls := reloaded.LastSync()
	require.NotNil(t, ls)
	assert.Equal(t, "abc123", ls.Commit)
	assert.Equal(t, "v1.2.0", ls.Version)
	assert.False(t, ls.Date.IsZero())
}

func TestSave_SchemaShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	store, err := Load(path)
	require.NoError(t, err)

	store.UpdateFile("dest/x.md", FileState{SourceHash: "aa", DestHash: "bb"})
	store.SetLastSync(LastSync{Commit: "abc"})
	require.NoError(t, store.Save())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "version")
	assert.Contains(t, doc, "lastSync")
	assert.Contains(t, doc, "files")

	var files map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc["files"], &files))
	require.Contains(t, files, "dest/x.md")
	for _, key := range []string{"syncedAt", "sourceHash", "destHash", "transformed"} {
		assert.Contains(t, files["dest/x.md"], key)
	}
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := Load(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)
	require.NoError(t, store.Save())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "manifest.json", entries[0].Name())
}

func TestUpdateFile_StampsSyncedAt(t *testing.T) {
	store := newTestStore(t)

	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	entry := store.UpdateFile("dest/x.md", FileState{SourceHash: "aa", DestHash: "bb", Transformed: true})
	assert.Equal(t, fixed, entry.SyncedAt)
	assert.True(t, entry.Transformed)

	stored, ok := store.FileStatus("dest/x.md")
	require.True(t, ok)
	assert.Equal(t, entry, stored)
}

func TestHasSourceChanged(t *testing.T) {
	store := newTestStore(t)
	store.UpdateFile("dest/x.md", FileState{SourceHash: "aa", DestHash: "aa"})

	changed, lastHash := store.HasSourceChanged("dest/x.md", "aa")
	assert.False(t, changed)
	assert.Equal(t, "aa", lastHash)

	changed, lastHash = store.HasSourceChanged("dest/x.md", "bb")
	assert.True(t, changed)
	assert.Equal(t, "aa", lastHash)

	changed, lastHash = store.HasSourceChanged("dest/untracked.md", "aa")
	assert.True(t, changed, "untracked paths count as changed")
	assert.Empty(t, lastHash)
}

func TestRemoveFile(t *testing.T) {
	store := newTestStore(t)
	store.UpdateFile("dest/x.md", FileState{SourceHash: "aa", DestHash: "aa"})

	assert.True(t, store.RemoveFile("dest/x.md"))
	assert.False(t, store.RemoveFile("dest/x.md"), "second remove finds nothing")
	assert.False(t, store.RemoveFile("dest/never-tracked.md"))
}

func TestSetLastSync_DateDefaultsToNow(t *testing.T) {
	store := newTestStore(t)

	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	store.SetLastSync(LastSync{Commit: "abc"})
	ls := store.LastSync()
	require.NotNil(t, ls)
	assert.Equal(t, fixed, ls.Date)

	explicit := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetLastSync(LastSync{Commit: "def", Date: explicit})
	assert.Equal(t, explicit, store.LastSync().Date)
}

func TestReset(t *testing.T) {
	store := newTestStore(t)
	store.UpdateFile("dest/x.md", FileState{SourceHash: "aa", DestHash: "aa"})
	store.SetLastSync(LastSync{Commit: "abc"})

	store.Reset()

	assert.Empty(t, store.TrackedFiles())
	assert.Nil(t, store.LastSync())
}

func TestSyncStatus(t *testing.T) {
	store := newTestStore(t)
	store.UpdateFile("dest/same.md", FileState{SourceHash: "aa", DestHash: "aa"})
	store.UpdateFile("dest/changed.md", FileState{SourceHash: "old", DestHash: "old"})

	hashes := map[string]string{
		"dest/same.md":    "aa",
		"dest/changed.md": "new",
	}
	hashFn := func(path string) (string, error) { return hashes[path], nil }

	status, err := store.SyncStatus(
		[]string{"dest/same.md", "dest/changed.md", "dest/new.md"}, hashFn)
	require.NoError(t, err)

	assert.Equal(t, []string{"dest/changed.md"}, status.NeedsSync)
	assert.Equal(t, []string{"dest/same.md"}, status.Unchanged)
	assert.Equal(t, []string{"dest/new.md"}, status.NewFiles)

	// Read-only: the store itself must be untouched.
	entry, _ := store.FileStatus("dest/changed.md")
	assert.Equal(t, "old", entry.SourceHash)
}

func TestComputeHash(t *testing.T) {
	h1 := ComputeHash([]byte("hello"))
	h2 := ComputeHash([]byte("hello"))
	h3 := ComputeHash([]byte("world"))

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}
