package sync

import (
	"sort"
	"time"
)

// Options controls a single sync run.
type Options struct {
	// DryRun reports what would happen without touching the destination
	// tree or the manifest.
	DryRun bool

	// Force overwrites destination files that diverged from their last
	// recorded sync.
	Force bool

	// ShowDiff attaches a unified diff for every file that would change.
	ShowDiff bool
}

// Skip reasons recorded in a Report.
const (
	ReasonBinary = "binary"
	ReasonError  = "error"
)

// SkippedFile records a file that was not copied, and why.
type SkippedFile struct {
	Path   string
	Reason string
	Detail string
}

// Report is the result of one sync run. It is ephemeral; a fresh Report is
// produced by every call.
type Report struct {
	// UpToDate is true when the run short-circuited because the source
	// commit matched the last sync.
	UpToDate bool

	// Copied lists destination paths that were written (or, in dry-run
	// mode, would have been written).
	Copied []string

	Skipped []SkippedFile

	// Divergences maps destination paths that were locally edited since
	// their last sync to an explanatory message.
	Divergences map[string]string

	// Diffs maps destination paths to unified diff text when ShowDiff is
	// requested.
	Diffs map[string]string

	Warnings []string

	// Orphans lists destination files with no corresponding source file.
	// They are reported only, never deleted.
	Orphans []string
}

func newReport() *Report {
	return &Report{
		Divergences: make(map[string]string),
		Diffs:       make(map[string]string),
	}
}

// Partial reports whether any file failed with an I/O error, which must be
// reflected in the process exit code.
func (r *Report) Partial() bool {
	for _, s := range r.Skipped {
		if s.Reason == ReasonError {
			return true
		}
	}
	return false
}

// sortForOutput makes report ordering deterministic regardless of worker
// scheduling.
func (r *Report) sortForOutput() {
	sort.Strings(r.Copied)
	sort.Strings(r.Orphans)
	sort.Slice(r.Skipped, func(i, j int) bool {
		return r.Skipped[i].Path < r.Skipped[j].Path
	})
}

// Stats summarizes the persisted sync state for status introspection.
type Stats struct {
	LastSyncTime    *time.Time
	LastSyncCommit  string
	LastSyncVersion string
	TrackedFiles    int
	OrphanCount     int
}
