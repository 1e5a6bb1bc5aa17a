package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/schaermu/vendsync/internal/config"
	"github.com/schaermu/vendsync/internal/git"
	"github.com/schaermu/vendsync/internal/manifest"
	"github.com/schaermu/vendsync/internal/sync"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile     string
	projectRoot string
	verbose     bool
	logFormat   string

	// Sync command flags
	dryRun   bool
	force    bool
	showDiff bool

	// Reset command flags
	resetYes bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vendsync",
	Short: "Synchronize vendored directories from a Git source tree",
	Long: `vendsync copies files from a Git-tracked source directory (typically a
submodule) into configured locations in your project, tracking what it
synced in a manifest so it can detect upstream changes and protect files
you have modified locally.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy changed source files to their mapped destinations",
	Long: `Sync asks the source repository what changed since the last recorded
sync, maps each changed file to its destination, and copies it unless the
destination has diverged from what was last synced.

Diverged files are reported and left untouched; pass --force to overwrite
them. Pass --dry-run to see what would happen without writing anything.`,
	RunE: runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last sync and whether the source has moved on",
	RunE:  runStatus,
}

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List destination files with no source counterpart",
	Long: `Orphans lists files under the mapped destination directories that no
longer correspond to any source file, usually because the source file was
removed or renamed upstream. Nothing is deleted.`,
	RunE: runOrphans,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the sync manifest so the next sync starts from scratch",
	RunE:  runReset,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vendsync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <project-root>/"+config.DefaultFileName+")")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project-root", "", "project root (default is found by walking up from the current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Sync command flags
	syncCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "show what would be done without making changes")
	syncCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite destination files that were modified locally")
	syncCmd.Flags().BoolVar(&showDiff, "show-diff", false, "print a unified diff for each file that would change")

	// Reset command flags
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm clearing the manifest")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(orphansCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	engine, err := buildEngine(logger)
	if err != nil {
		return err
	}

	report, err := engine.Sync(ctx, sync.Options{DryRun: dryRun, Force: force, ShowDiff: showDiff})
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	printReport(report)

	if report.Partial() {
		return fmt.Errorf("sync completed with errors")
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	engine, err := buildEngine(logger)
	if err != nil {
		return err
	}

	stats, err := engine.Stats(ctx)
	if err != nil {
		return err
	}
	needsSync, err := engine.NeedsSync(ctx)
	if err != nil {
		return err
	}

	if stats.LastSyncTime == nil {
		fmt.Println("last sync:     never")
	} else {
		fmt.Printf("last sync:     %s (%s)\n",
			humanize.Time(*stats.LastSyncTime), stats.LastSyncTime.Format("2006-01-02 15:04:05 MST"))
		fmt.Printf("last commit:   %s\n", stats.LastSyncCommit)
		if stats.LastSyncVersion != "" {
			fmt.Printf("last version:  %s\n", stats.LastSyncVersion)
		}
	}
	fmt.Printf("tracked files: %d\n", stats.TrackedFiles)
	fmt.Printf("orphans:       %d\n", stats.OrphanCount)
	if needsSync {
		fmt.Println("status:        source has new commits, run `vendsync sync`")
	} else {
		fmt.Println("status:        up to date")
	}
	return nil
}

func runOrphans(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	engine, err := buildEngine(logger)
	if err != nil {
		return err
	}

	orphans, err := engine.FindOrphanedFiles(ctx)
	if err != nil {
		return err
	}

	if len(orphans) == 0 {
		fmt.Println("no orphaned files")
		return nil
	}
	for _, path := range orphans {
		fmt.Println(path)
	}
	fmt.Printf("\n%d orphaned file(s); review and delete manually if unwanted\n", len(orphans))
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		return fmt.Errorf("reset clears all sync tracking state; re-run with --yes to confirm")
	}

	logger := setupLogger()
	root, err := resolveProjectRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(logger, root)
	if err != nil {
		return err
	}

	store, err := manifest.Load(cfg.ManifestPath(root))
	if err != nil {
		return err
	}
	store.Reset()
	if err := store.Save(); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}

	logger.Info("manifest cleared", "path", cfg.ManifestPath(root))
	fmt.Println("manifest cleared; the next sync will copy all tracked files")
	return nil
}

// buildEngine wires config, git client, and manifest store into a sync
// engine rooted at the resolved project root.
func buildEngine(logger *log.Logger) (*sync.Engine, error) {
	root, err := resolveProjectRoot()
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfig(logger, root)
	if err != nil {
		return nil, err
	}

	gitClient := git.NewShellClient(cfg.SourceDir(root))
	store, err := manifest.Load(cfg.ManifestPath(root))
	if err != nil {
		return nil, err
	}

	return sync.NewEngine(cfg, root, gitClient, store, logger), nil
}

func printReport(report *sync.Report) {
	if report.UpToDate {
		fmt.Println("already up to date")
	}

	for _, path := range report.Copied {
		if dryRun {
			fmt.Printf("would copy %s\n", path)
		} else {
			fmt.Printf("copied %s\n", path)
		}
	}
	for _, skip := range report.Skipped {
		if skip.Detail != "" {
			fmt.Printf("skipped %s (%s: %s)\n", skip.Path, skip.Reason, skip.Detail)
		} else {
			fmt.Printf("skipped %s (%s)\n", skip.Path, skip.Reason)
		}
	}
	for _, msg := range report.Divergences {
		fmt.Printf("diverged: %s\n", msg)
	}
	for path, diff := range report.Diffs {
		fmt.Printf("--- diff for %s ---\n%s\n", path, diff)
	}
	for _, warning := range report.Warnings {
		fmt.Printf("warning: %s\n", warning)
	}
	for _, path := range report.Orphans {
		fmt.Printf("orphaned: %s\n", path)
	}
}

func setupLogger() *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}

	opts := log.Options{
		Level:           level,
		ReportTimestamp: true,
	}
	if logFormat == "json" {
		opts.Formatter = log.JSONFormatter
	}

	return log.NewWithOptions(os.Stderr, opts)
}

// resolveProjectRoot returns the --project-root flag if set, otherwise
// walks up from the working directory looking for the config file.
func resolveProjectRoot() (string, error) {
	if projectRoot != "" {
		return filepath.Abs(projectRoot)
	}
	if cfgFile != "" {
		return filepath.Abs(filepath.Dir(cfgFile))
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, config.DefaultFileName)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s found in this or any parent directory (or pass --project-root)", config.DefaultFileName)
		}
		dir = parent
	}
}

func loadConfig(logger *log.Logger, root string) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		configPath = filepath.Join(root, config.DefaultFileName)
	}

	logger.Debug("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"source", cfg.Source.Path,
		"mappings", len(cfg.Mappings),
		"workers", cfg.Sync.Workers)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
