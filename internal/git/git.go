package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CommitInfo identifies a point in the source tree's history.
type CommitInfo struct {
	Hash      string
	ShortHash string
	// Version is the tag pointing at (or nearest to) the commit, if any.
	Version *string
	Date    time.Time
}

// ChangeSet is the result of a single change-detection query.
type ChangeSet struct {
	HasChanges bool
	// Files are deduplicated source-relative paths.
	Files      []string
	FromCommit string
	ToCommit   string
	Message    string
}

// Client provides read-only queries against the vendored source checkout.
type Client interface {
	// Verify checks that the source tree is ready for queries. It must be
	// called, and must succeed, before any other operation.
	Verify(ctx context.Context) error

	// CommitInfo returns metadata for the current HEAD of the source tree.
	CommitInfo(ctx context.Context) (CommitInfo, error)

	// DetectChanges returns the files that differ between sinceCommit and
	// HEAD. An empty sinceCommit means first sync: every tracked file is
	// returned. An unresolvable sinceCommit falls back to the full file
	// list rather than failing.
	DetectChanges(ctx context.Context, sinceCommit string) (ChangeSet, error)

	// ListFiles returns every file currently tracked in the source tree.
	ListFiles(ctx context.Context) ([]string, error)
}

// NotInitializedError indicates the source tree is missing or is not a git
// work tree. It carries the exact remediation step for the user.
type NotInitializedError struct {
	Path        string
	Remediation string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("source tree %q is not initialized (run: %s)", e.Path, e.Remediation)
}

// OperationError wraps a git query failure other than "not initialized".
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("git %s failed: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// ShellClient implements Client by shelling out to the git command against
// a local checkout. All subprocess use is isolated here so the sync engine
// can be exercised against an in-memory fake.
type ShellClient struct {
	// sourceDir is the absolute path of the vendored checkout.
	sourceDir string
}

// NewShellClient creates a git client for the checkout at sourceDir.
func NewShellClient(sourceDir string) *ShellClient {
	return &ShellClient{sourceDir: sourceDir}
}

// Verify checks that sourceDir exists and resolves to a git work tree.
func (c *ShellClient) Verify(ctx context.Context) error {
	notInit := &NotInitializedError{
		Path:        c.sourceDir,
		Remediation: fmt.Sprintf("git submodule update --init %s", c.sourceDir),
	}

	if fi, err := os.Stat(c.sourceDir); err != nil || !fi.IsDir() {
		return notInit
	}

	out, err := c.run(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil || strings.TrimSpace(out) != "true" {
		return notInit
	}

	// A work tree without a single commit can't answer history queries.
	if _, err := c.run(ctx, "rev-parse", "--verify", "HEAD"); err != nil {
		return notInit
	}
	return nil
}

// CommitInfo returns hash, short hash, best-effort version tag, and commit
// date for HEAD. Tag resolution never fails the call.
func (c *ShellClient) CommitInfo(ctx context.Context) (CommitInfo, error) {
	hash, err := c.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return CommitInfo{}, &OperationError{Op: "rev-parse HEAD", Err: err}
	}
	hash = strings.TrimSpace(hash)

	shortHash, err := c.run(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return CommitInfo{}, &OperationError{Op: "rev-parse --short HEAD", Err: err}
	}

	info := CommitInfo{
		Hash:      hash,
		ShortHash: strings.TrimSpace(shortHash),
		Version:   c.resolveVersion(ctx),
	}

	if out, err := c.run(ctx, "show", "-s", "--format=%cI", "HEAD"); err == nil {
		if date, perr := time.Parse(time.RFC3339, strings.TrimSpace(out)); perr == nil {
			info.Date = date
		}
	}
	return info, nil
}

// resolveVersion looks for an exact tag on HEAD, then the nearest ancestor
// tag. Returns nil when the tree has no tags at all.
func (c *ShellClient) resolveVersion(ctx context.Context) *string {
	for _, args := range [][]string{
		{"describe", "--exact-match", "--tags", "HEAD"},
		{"describe", "--tags", "--abbrev=0", "HEAD"},
	} {
		if out, err := c.run(ctx, args...); err == nil {
			tag := strings.TrimSpace(out)
			if tag != "" {
				return &tag
			}
		}
	}
	return nil
}

// DetectChanges implements the three change-detection modes: first sync
// (empty sinceCommit), already up to date (sinceCommit is HEAD), and the
// incremental diff. Missing history never blocks progress.
func (c *ShellClient) DetectChanges(ctx context.Context, sinceCommit string) (ChangeSet, error) {
	info, err := c.CommitInfo(ctx)
	if err != nil {
		return ChangeSet{}, err
	}

	if sinceCommit == "" {
		return c.allFiles(ctx, info.Hash, "first sync: all tracked files")
	}

	if sinceCommit == info.Hash {
		return ChangeSet{
			HasChanges: false,
			FromCommit: sinceCommit,
			ToCommit:   info.Hash,
			Message:    "already up to date",
		}, nil
	}

	if !c.resolvable(ctx, sinceCommit) {
		msg := fmt.Sprintf("commit %s is no longer resolvable, performing full sync", shorten(sinceCommit))
		return c.allFiles(ctx, info.Hash, msg)
	}

	out, err := c.run(ctx, "diff", "--name-only", sinceCommit, "HEAD")
	if err != nil {
		return ChangeSet{}, &OperationError{Op: "diff --name-only", Err: err}
	}

	files := splitLines(out)
	return ChangeSet{
		HasChanges: len(files) > 0,
		Files:      files,
		FromCommit: sinceCommit,
		ToCommit:   info.Hash,
		Message:    fmt.Sprintf("%d file(s) changed since %s", len(files), shorten(sinceCommit)),
	}, nil
}

// ListFiles returns every path tracked by git in the source tree.
func (c *ShellClient) ListFiles(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "ls-files")
	if err != nil {
		return nil, &OperationError{Op: "ls-files", Err: err}
	}
	return splitLines(out), nil
}

// allFiles builds a first-sync ChangeSet from the full tracked file list.
func (c *ShellClient) allFiles(ctx context.Context, toCommit, msg string) (ChangeSet, error) {
	files, err := c.ListFiles(ctx)
	if err != nil {
		return ChangeSet{}, err
	}
	return ChangeSet{
		HasChanges: len(files) > 0,
		Files:      files,
		FromCommit: "none",
		ToCommit:   toCommit,
		Message:    msg,
	}, nil
}

// resolvable reports whether the given revision still exists, e.g. after
// upstream history was rewritten.
func (c *ShellClient) resolvable(ctx context.Context, rev string) bool {
	_, err := c.run(ctx, "cat-file", "-e", rev+"^{commit}")
	return err == nil
}

// run executes a git subcommand against the source checkout and returns
// stdout, with stderr folded into the error on failure.
func (c *ShellClient) run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", c.sourceDir}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)

	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

// splitLines splits command output into deduplicated, non-empty lines.
func splitLines(out string) []string {
	seen := make(map[string]bool)
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		lines = append(lines, filepath.ToSlash(line))
	}
	return lines
}

func shorten(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
