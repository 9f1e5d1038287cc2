package preflight

import (
	"docprep/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all preflight checks for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckBinary("Conversion engine", cfg.Convert.Binary))
	results = append(results, CheckBinary("7-Zip", cfg.Extract.SevenZipBinary))
	results = append(results, CheckFreeSpace("Free disk space", cfg.Paths.DataDir, cfg.MaxUnpackBytes()))

	return results
}

// AllPassed reports whether every check in results passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
