package pipeline

import (
	"runtime"

	"golang.org/x/sys/unix"

	"docprep/internal/config"
)

// workerFootprint is the nominal memory cost of one tool-bound worker,
// used to clamp the processing pass on small machines.
const workerFootprint = 512 << 20

// workerLimits bounds how many units run concurrently in each pass.
// Classification is cheap filesystem work and runs wider than the
// tool-bound processing stages; conversion is additionally capped by the
// converter pool regardless of these limits.
type workerLimits struct {
	classify int
	process  int
	merge    int
}

func limitsFor(cfg *config.Config) workerLimits {
	if cfg != nil && cfg.Pipeline.Workers > 0 {
		n := cfg.Pipeline.Workers
		return workerLimits{classify: n, process: n, merge: n}
	}

	cpus := runtime.NumCPU()
	process := cpus
	if avail := availableMemory(); avail > 0 {
		if byMem := int(avail / workerFootprint); byMem >= 1 && byMem < process {
			process = byMem
		}
	}
	return workerLimits{
		classify: 4 * cpus,
		process:  process,
		merge:    cpus,
	}
}

func availableMemory() int64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return int64(info.Freeram) * int64(info.Unit)
}
