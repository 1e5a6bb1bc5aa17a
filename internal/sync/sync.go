package sync

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/sync/errgroup"

	"github.com/schaermu/vendsync/internal/config"
	"github.com/schaermu/vendsync/internal/git"
	"github.com/schaermu/vendsync/internal/manifest"
	"github.com/schaermu/vendsync/internal/mapping"
)

// binarySniffLen is how many leading bytes are inspected for a NUL byte,
// matching git's own text heuristic.
const binarySniffLen = 8000

// Engine orchestrates the sync process: it asks the source repository what
// changed, filters through the path mapper, consults the manifest to detect
// divergence, applies copies, and assembles a report.
type Engine struct {
	cfg         *config.Config
	projectRoot string
	repo        git.Client
	store       manifest.Store
	mapper      *mapping.Mapper
	logger      *log.Logger
}

// NewEngine creates a new sync engine.
func NewEngine(cfg *config.Config, projectRoot string, repo git.Client, store manifest.Store, logger *log.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		projectRoot: projectRoot,
		repo:        repo,
		store:       store,
		mapper:      mapping.NewMapper(cfg.Mappings),
		logger:      logger,
	}
}

// Sync runs one synchronization pass. Per-file decisions run under a
// bounded worker pool; manifest mutations are staged in memory and flushed
// in exactly one atomic save at the end of a successful non-dry run.
func (e *Engine) Sync(ctx context.Context, opts Options) (*Report, error) {
	if err := e.repo.Verify(ctx); err != nil {
		return nil, err
	}

	info, err := e.repo.CommitInfo(ctx)
	if err != nil {
		return nil, err
	}

	sinceCommit := ""
	if ls := e.store.LastSync(); ls != nil {
		sinceCommit = ls.Commit
	}

	changes, err := e.repo.DetectChanges(ctx, sinceCommit)
	if err != nil {
		return nil, err
	}

	e.logger.Info("starting sync",
		"commit", info.ShortHash,
		"changed", len(changes.Files),
		"dry_run", opts.DryRun)

	report := newReport()
	if !changes.HasChanges {
		e.logger.Info("already up to date", "commit", info.ShortHash)
		report.UpToDate = true
		return report, nil
	}

	// Filter the change set down to mapped files. Unmapped paths are
	// dropped silently and never appear in the report.
	type mappedFile struct {
		src  string
		dest string
	}
	var files []mappedFile
	for _, srcPath := range changes.Files {
		destPath, ok := e.mapper.Map(srcPath)
		if !ok {
			continue
		}
		files = append(files, mappedFile{src: srcPath, dest: destPath})
	}

	var (
		mu     sync.Mutex
		staged = make(map[string]manifest.FileState)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Sync.Workers)
	for _, f := range files {
		f := f
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			res := e.processFile(f.src, f.dest, opts)
			mu.Lock()
			defer mu.Unlock()
			res.applyTo(report)
			if res.stage != nil {
				staged[f.dest] = *res.stage
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	orphans, err := e.findOrphans(ctx)
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("orphan detection failed: %v", err))
	} else {
		report.Orphans = orphans
	}

	if opts.DryRun {
		if len(report.Copied) > 0 {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("dry run: %d file(s) would be copied, nothing was written", len(report.Copied)))
		}
		report.sortForOutput()
		return report, nil
	}

	// Single atomic persistence point for the whole run.
	for destPath, state := range staged {
		e.store.UpdateFile(destPath, state)
	}
	version := ""
	if info.Version != nil {
		version = *info.Version
	}
	e.store.SetLastSync(manifest.LastSync{Commit: info.Hash, Version: version})
	if err := e.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save manifest: %w", err)
	}

	e.logger.Info("sync complete",
		"copied", len(report.Copied),
		"skipped", len(report.Skipped),
		"diverged", len(report.Divergences),
		"orphans", len(report.Orphans))

	report.sortForOutput()
	return report, nil
}

// fileResult carries one worker's contribution back to the shared report.
type fileResult struct {
	copied     string
	skipped    *SkippedFile
	divergence string
	divPath    string
	diff       string
	diffPath   string
	warning    string
	stage      *manifest.FileState
}

func (r fileResult) applyTo(report *Report) {
	if r.copied != "" {
		report.Copied = append(report.Copied, r.copied)
	}
	if r.skipped != nil {
		report.Skipped = append(report.Skipped, *r.skipped)
	}
	if r.divPath != "" {
		report.Divergences[r.divPath] = r.divergence
	}
	if r.diffPath != "" {
		report.Diffs[r.diffPath] = r.diff
	}
	if r.warning != "" {
		report.Warnings = append(report.Warnings, r.warning)
	}
}

// processFile decides and (outside dry-run) applies the copy for a single
// mapped file. It never touches the manifest store directly.
func (e *Engine) processFile(srcPath, destPath string, opts Options) fileResult {
	srcAbs := filepath.Join(e.cfg.SourceDir(e.projectRoot), filepath.FromSlash(srcPath))
	destAbs := filepath.Join(e.projectRoot, filepath.FromSlash(destPath))

	content, err := os.ReadFile(srcAbs)
	if err != nil {
		if os.IsNotExist(err) {
			// Deleted upstream. The destination copy, if any, surfaces
			// through orphan detection.
			e.logger.Debug("source file gone, skipping", "path", srcPath)
			return fileResult{}
		}
		return fileResult{skipped: &SkippedFile{Path: destPath, Reason: ReasonError, Detail: err.Error()}}
	}

	// Binary content is never copied, regardless of force or dry-run.
	if isBinary(content) {
		e.logger.Debug("skipping binary file", "path", srcPath)
		return fileResult{skipped: &SkippedFile{Path: destPath, Reason: ReasonBinary}}
	}

	sourceHash := manifest.ComputeHash(content)

	destContent, err := os.ReadFile(destAbs)
	destExists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return fileResult{skipped: &SkippedFile{Path: destPath, Reason: ReasonError, Detail: err.Error()}}
	}

	var res fileResult
	diverged := false
	if destExists {
		destHash := manifest.ComputeHash(destContent)

		// Diverged: the destination was edited since its last recorded
		// sync, and the edit isn't simply the incoming content already.
		lastEntry, tracked := e.store.FileStatus(destPath)
		modifiedLocally := !tracked || destHash != lastEntry.DestHash
		diverged = modifiedLocally && destHash != sourceHash

		if opts.ShowDiff && destHash != sourceHash {
			diff, derr := unifiedDiff(destPath, destContent, content)
			if derr != nil {
				res.warning = fmt.Sprintf("failed to compute diff for %s: %v", destPath, derr)
			} else {
				res.diffPath = destPath
				res.diff = diff
			}
		}
	} else if opts.ShowDiff {
		diff, derr := unifiedDiff(destPath, nil, content)
		if derr == nil {
			res.diffPath = destPath
			res.diff = diff
		}
	}

	if diverged {
		if !opts.Force {
			res.divPath = destPath
			res.divergence = fmt.Sprintf(
				"%s was modified locally since the last sync; use --force to overwrite", destPath)
			return res
		}
		res.warning = fmt.Sprintf("overwriting locally modified file %s (--force)", destPath)
	}

	if opts.DryRun {
		res.copied = destPath
		return res
	}

	if err := e.writeFile(srcAbs, destAbs, content); err != nil {
		res.skipped = &SkippedFile{Path: destPath, Reason: ReasonError, Detail: err.Error()}
		return res
	}

	e.logger.Debug("copied file", "src", srcPath, "dest", destPath)
	res.copied = destPath
	// Destination matches source by construction.
	res.stage = &manifest.FileState{SourceHash: sourceHash, DestHash: sourceHash}
	return res
}

// writeFile writes content to dst atomically, creating parent directories
// and carrying over the source file's mode.
func (e *Engine) writeFile(src, dst string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	mode := os.FileMode(0644)
	if fi, err := os.Stat(src); err == nil {
		mode = fi.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".vendsync-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dst)
}

// FindOrphanedFiles returns destination files under mapped roots that have
// no corresponding source file. Read-only.
func (e *Engine) FindOrphanedFiles(ctx context.Context) ([]string, error) {
	if err := e.repo.Verify(ctx); err != nil {
		return nil, err
	}
	return e.findOrphans(ctx)
}

func (e *Engine) findOrphans(ctx context.Context) ([]string, error) {
	sourceFiles, err := e.repo.ListFiles(ctx)
	if err != nil {
		return nil, err
	}

	expected := make(map[string]bool)
	for _, srcPath := range sourceFiles {
		if destPath, ok := e.mapper.Map(srcPath); ok {
			expected[destPath] = true
		}
	}

	var orphans []string
	for _, root := range e.mapper.DestRoots() {
		rootAbs := filepath.Join(e.projectRoot, filepath.FromSlash(root))
		err := filepath.WalkDir(rootAbs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(e.projectRoot, path)
			if err != nil {
				return err
			}
			destPath := filepath.ToSlash(rel)
			if !expected[destPath] {
				orphans = append(orphans, destPath)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return orphans, nil
}

// Stats summarizes the last sync time, tracked file count, and orphan
// count. Read-only.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{TrackedFiles: len(e.store.TrackedFiles())}

	if ls := e.store.LastSync(); ls != nil {
		date := ls.Date
		stats.LastSyncTime = &date
		stats.LastSyncCommit = ls.Commit
		stats.LastSyncVersion = ls.Version
	}

	orphans, err := e.FindOrphanedFiles(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats.OrphanCount = len(orphans)
	return stats, nil
}

// NeedsSync reports whether the source commit has advanced past the last
// recorded sync (or no sync happened yet). Read-only.
func (e *Engine) NeedsSync(ctx context.Context) (bool, error) {
	if err := e.repo.Verify(ctx); err != nil {
		return false, err
	}

	ls := e.store.LastSync()
	if ls == nil {
		return true, nil
	}

	info, err := e.repo.CommitInfo(ctx)
	if err != nil {
		return false, err
	}
	return info.Hash != ls.Commit, nil
}

// isBinary sniffs for a NUL byte in the leading bytes of content.
func isBinary(content []byte) bool {
	sniff := content
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	return bytes.IndexByte(sniff, 0) >= 0
}

// unifiedDiff renders a conventional unified diff between the current
// destination content and the incoming source content.
func unifiedDiff(path string, oldContent, newContent []byte) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(oldContent)),
		B:        difflib.SplitLines(string(newContent)),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}
