package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeExtract()
	c.normalizeConvert()
	c.normalizePipeline()
	if err := c.normalizeMetrics(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeExtract() {
	if c.Extract.MaxUnpackSizeMB <= 0 {
		c.Extract.MaxUnpackSizeMB = defaultMaxUnpackSizeMB
	}
	if c.Extract.MaxFilesInArchive <= 0 {
		c.Extract.MaxFilesInArchive = defaultMaxFilesInArchive
	}
	if c.Extract.MaxDepth <= 0 {
		c.Extract.MaxDepth = defaultMaxDepth
	}
	c.Extract.SevenZipBinary = strings.TrimSpace(c.Extract.SevenZipBinary)
	if c.Extract.SevenZipBinary == "" {
		c.Extract.SevenZipBinary = defaultSevenZipBinary
	}
	if c.Extract.ToolTimeout <= 0 {
		c.Extract.ToolTimeout = defaultToolTimeout
	}
}

func (c *Config) normalizeConvert() {
	c.Convert.Binary = strings.TrimSpace(c.Convert.Binary)
	if c.Convert.Binary == "" {
		c.Convert.Binary = defaultConvertBinary
	}
	if c.Convert.PoolSize <= 0 {
		c.Convert.PoolSize = defaultConvertPoolSize
	}
	if c.Convert.BaseTimeoutSeconds <= 0 {
		c.Convert.BaseTimeoutSeconds = defaultBaseTimeoutSeconds
	}
	if c.Convert.TimeoutPerMB <= 0 {
		c.Convert.TimeoutPerMB = defaultTimeoutPerMB
	}
	if c.Convert.MaxTimeoutSeconds <= 0 {
		c.Convert.MaxTimeoutSeconds = defaultMaxTimeoutSeconds
	}
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.MaxCycles <= 0 {
		c.Pipeline.MaxCycles = defaultMaxCycles
	}
	if c.Pipeline.Workers < 0 {
		c.Pipeline.Workers = 0
	}
}

func (c *Config) normalizeMetrics() error {
	var err error
	c.Metrics.Path = strings.TrimSpace(c.Metrics.Path)
	if c.Metrics.Path == "" {
		c.Metrics.Path = filepath.Join(c.Paths.DataDir, "metrics.db")
		return nil
	}
	if c.Metrics.Path, err = expandPath(c.Metrics.Path); err != nil {
		return fmt.Errorf("metrics.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
