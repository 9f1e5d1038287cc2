package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Extract contains configuration for archive unpacking and its resource
// ceilings.
type Extract struct {
	MaxUnpackSizeMB   int    `toml:"max_unpack_size_mb"`
	MaxFilesInArchive int    `toml:"max_files_in_archive"`
	MaxDepth          int    `toml:"max_depth"`
	KeepArchives      bool   `toml:"keep_archives"`
	SevenZipBinary    string `toml:"sevenzip_binary"`
	ToolTimeout       int    `toml:"tool_timeout_seconds"`
}

// Convert contains configuration for the document conversion engine.
type Convert struct {
	Binary             string `toml:"binary"`
	PoolSize           int    `toml:"pool_size"`
	BaseTimeoutSeconds int    `toml:"base_timeout_seconds"`
	TimeoutPerMB       int    `toml:"timeout_per_mb_seconds"`
	MaxTimeoutSeconds  int    `toml:"max_timeout_seconds"`
}

// Pipeline contains configuration for batch run orchestration.
type Pipeline struct {
	MaxCycles int `toml:"max_cycles"`
	// Workers caps concurrent units per stage. Zero selects an automatic
	// limit derived from the host CPU count.
	Workers int `toml:"workers"`
}

// Metrics contains configuration for the per-run metrics sink.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for docprep.
//
// Configuration sections by subsystem:
//   - Paths: batch data root and log directory
//   - Extract: unpack ceilings, recursion depth, and 7z tool settings
//   - Convert: conversion engine binary, sandbox pool, and timeouts
//   - Pipeline: cycle count and worker limits
//   - Metrics: per-run metrics database sink
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Extract  Extract  `toml:"extract"`
	Convert  Convert  `toml:"convert"`
	Pipeline Pipeline `toml:"pipeline"`
	Metrics  Metrics  `toml:"metrics"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/docprep/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("docprep.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data root and log directory.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// MaxUnpackBytes returns the extraction size ceiling in bytes.
func (c *Config) MaxUnpackBytes() int64 {
	return int64(c.Extract.MaxUnpackSizeMB) << 20
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Sample returns the embedded sample configuration content.
func Sample() string {
	return sampleConfig
}
