package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"docprep/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "docprep", "data")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.LogDir != filepath.Join(tempHome, ".local", "share", "docprep", "logs") {
		t.Fatalf("unexpected log dir: %q", cfg.Paths.LogDir)
	}
	if cfg.Extract.MaxUnpackSizeMB != 500 {
		t.Fatalf("unexpected unpack ceiling: %d", cfg.Extract.MaxUnpackSizeMB)
	}
	if cfg.Extract.MaxFilesInArchive != 1000 {
		t.Fatalf("unexpected file ceiling: %d", cfg.Extract.MaxFilesInArchive)
	}
	if cfg.MaxUnpackBytes() != 500<<20 {
		t.Fatalf("unexpected unpack ceiling in bytes: %d", cfg.MaxUnpackBytes())
	}
	if cfg.Convert.Binary != "soffice" {
		t.Fatalf("unexpected convert binary: %q", cfg.Convert.Binary)
	}
	if cfg.Pipeline.MaxCycles != 3 {
		t.Fatalf("unexpected max cycles: %d", cfg.Pipeline.MaxCycles)
	}
	if cfg.Metrics.Path != filepath.Join(wantData, "metrics.db") {
		t.Fatalf("unexpected metrics path: %q", cfg.Metrics.Path)
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("unexpected log format: %q", cfg.Logging.Format)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "docprep.toml")

	type payload struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		Extract struct {
			MaxUnpackSizeMB int  `toml:"max_unpack_size_mb"`
			KeepArchives    bool `toml:"keep_archives"`
		} `toml:"extract"`
		Convert struct {
			PoolSize int `toml:"pool_size"`
		} `toml:"convert"`
		Logging struct {
			Format string `toml:"format"`
		} `toml:"logging"`
	}
	custom := payload{}
	custom.Paths.DataDir = filepath.Join(tempDir, "batches")
	custom.Extract.MaxUnpackSizeMB = 64
	custom.Extract.KeepArchives = true
	custom.Convert.PoolSize = 2
	custom.Logging.Format = "JSON"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Paths.DataDir != filepath.Join(tempDir, "batches") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Extract.MaxUnpackSizeMB != 64 {
		t.Fatalf("expected unpack ceiling override, got %d", cfg.Extract.MaxUnpackSizeMB)
	}
	if !cfg.Extract.KeepArchives {
		t.Fatal("expected keep_archives override")
	}
	if cfg.Convert.PoolSize != 2 {
		t.Fatalf("expected pool size override, got %d", cfg.Convert.PoolSize)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized json format, got %q", cfg.Logging.Format)
	}
	if cfg.Extract.MaxFilesInArchive != 1000 {
		t.Fatalf("expected default file ceiling, got %d", cfg.Extract.MaxFilesInArchive)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "max_unpack_size_mb") {
		t.Fatalf("sample config missing extract section: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Extract.MaxUnpackSizeMB != 500 {
		t.Fatalf("sample unpack ceiling differs from default: %d", cfg.Extract.MaxUnpackSizeMB)
	}
	if cfg.Convert.Binary != "soffice" {
		t.Fatalf("sample convert binary differs from default: %q", cfg.Convert.Binary)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.MaxCycles = 5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for max_cycles above ceiling")
	}

	cfg = config.Default()
	cfg.Convert.MaxTimeoutSeconds = cfg.Convert.BaseTimeoutSeconds - 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when max timeout below base timeout")
	}

	cfg = config.Default()
	cfg.Extract.MaxDepth = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive depth")
	}

	cfg = config.Default()
	cfg.Convert.Binary = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing convert binary")
	}
}
