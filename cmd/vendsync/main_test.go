package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
)

func TestSetupLogger(t *testing.T) {
	// Save original globals.
	origVerbose := verbose
	origFormat := logFormat
	t.Cleanup(func() {
		verbose = origVerbose
		logFormat = origFormat
	})

	for _, tc := range []struct {
		name      string
		verbose   bool
		logFormat string
	}{
		{name: "info/text", verbose: false, logFormat: "text"},
		{name: "debug/text", verbose: true, logFormat: "text"},
		{name: "info/json", verbose: false, logFormat: "json"},
		{name: "debug/json", verbose: true, logFormat: "json"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			verbose = tc.verbose
			logFormat = tc.logFormat

			logger := setupLogger()
			if logger == nil {
				t.Fatal("setupLogger returned nil")
			}

			wantLevel := log.InfoLevel
			if tc.verbose {
				wantLevel = log.DebugLevel
			}
			if logger.GetLevel() != wantLevel {
				t.Errorf("expected level %v, got %v", wantLevel, logger.GetLevel())
			}
		})
	}
}

func TestResolveProjectRoot_FlagWins(t *testing.T) {
	origRoot := projectRoot
	t.Cleanup(func() { projectRoot = origRoot })

	tmpDir := t.TempDir()
	projectRoot = tmpDir

	root, err := resolveProjectRoot()
	if err != nil {
		t.Fatalf("resolveProjectRoot returned error: %v", err)
	}
	if !filepath.IsAbs(root) {
		t.Errorf("expected absolute path, got %q", root)
	}
}

func TestResolveProjectRoot_ConfigFlagImpliesRoot(t *testing.T) {
	origRoot := projectRoot
	origCfg := cfgFile
	t.Cleanup(func() {
		projectRoot = origRoot
		cfgFile = origCfg
	})

	tmpDir := t.TempDir()
	projectRoot = ""
	cfgFile = filepath.Join(tmpDir, "custom.yaml")

	root, err := resolveProjectRoot()
	if err != nil {
		t.Fatalf("resolveProjectRoot returned error: %v", err)
	}
	if root != tmpDir {
		t.Errorf("expected root %q, got %q", tmpDir, root)
	}
}

func TestResolveProjectRoot_WalksUpToConfigFile(t *testing.T) {
	origRoot := projectRoot
	origCfg := cfgFile
	t.Cleanup(func() {
		projectRoot = origRoot
		cfgFile = origCfg
	})
	projectRoot = ""
	cfgFile = ""

	tmpDir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "vendsync.yaml"), []byte("source:\n  path: vendor\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(tmpDir, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	if err := os.Chdir(nested); err != nil {
		t.Fatal(err)
	}

	root, err := resolveProjectRoot()
	if err != nil {
		t.Fatalf("resolveProjectRoot returned error: %v", err)
	}
	if root != tmpDir {
		t.Errorf("expected root %q, got %q", tmpDir, root)
	}
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	tmpDir := t.TempDir()
	configContent := []byte(`source:
  path: "vendor/upstream"
mappings:
  - from: "agents"
    to: ".claude/agents"
`)
	cfgPath := filepath.Join(tmpDir, "vendsync.yaml")
	if err := os.WriteFile(cfgPath, configContent, 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfgFile = cfgPath
	logger := log.New(io.Discard)

	cfg, err := loadConfig(logger, tmpDir)
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg == nil {
		t.Fatal("loadConfig returned nil config")
	}
	if cfg.Source.Path != "vendor/upstream" {
		t.Errorf("unexpected source path %q", cfg.Source.Path)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	cfgFile = ""
	logger := log.New(io.Discard)

	_, err := loadConfig(logger, t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestRunReset_RequiresConfirmation(t *testing.T) {
	origYes := resetYes
	t.Cleanup(func() { resetYes = origYes })

	resetYes = false
	if err := runReset(resetCmd, nil); err == nil {
		t.Fatal("expected error without --yes, got nil")
	}
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	if ctx == nil {
		t.Fatal("setupSignalHandler returned nil context")
	}

	cancel()

	<-ctx.Done()
	if err := ctx.Err(); err == nil {
		t.Fatal("expected context error after cancel, got nil")
	}
}

func TestVersionCmd(t *testing.T) {
	// versionCmd.Run simply prints version info; should not panic.
	versionCmd.Run(versionCmd, []string{})
}
