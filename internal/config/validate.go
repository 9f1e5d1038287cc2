package config

import (
	"errors"
	"fmt"
)

// maxSupportedCycles bounds pipeline.max_cycles; the batch directory layout
// has a fixed number of processing roots.
const maxSupportedCycles = 3

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateExtract(); err != nil {
		return err
	}
	if err := c.validateConvert(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	return nil
}

func (c *Config) validateExtract() error {
	if err := ensurePositiveMap(map[string]int{
		"extract.max_unpack_size_mb":   c.Extract.MaxUnpackSizeMB,
		"extract.max_files_in_archive": c.Extract.MaxFilesInArchive,
		"extract.max_depth":            c.Extract.MaxDepth,
		"extract.tool_timeout_seconds": c.Extract.ToolTimeout,
	}); err != nil {
		return err
	}
	if c.Extract.SevenZipBinary == "" {
		return errors.New("extract.sevenzip_binary must be set")
	}
	return nil
}

func (c *Config) validateConvert() error {
	if c.Convert.Binary == "" {
		return errors.New("convert.binary must be set")
	}
	if err := ensurePositiveMap(map[string]int{
		"convert.pool_size":              c.Convert.PoolSize,
		"convert.base_timeout_seconds":   c.Convert.BaseTimeoutSeconds,
		"convert.timeout_per_mb_seconds": c.Convert.TimeoutPerMB,
		"convert.max_timeout_seconds":    c.Convert.MaxTimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Convert.MaxTimeoutSeconds < c.Convert.BaseTimeoutSeconds {
		return errors.New("convert.max_timeout_seconds must be >= convert.base_timeout_seconds")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.MaxCycles < 1 || c.Pipeline.MaxCycles > maxSupportedCycles {
		return fmt.Errorf("pipeline.max_cycles must be between 1 and %d", maxSupportedCycles)
	}
	if c.Pipeline.Workers < 0 {
		return errors.New("pipeline.workers must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
