package preflight

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckBinary verifies that the named executable resolves on PATH.
func CheckBinary(name, binary string) Result {
	if binary == "" {
		return Result{Name: name, Detail: "binary not configured"}
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s not found on PATH", binary)}
	}
	return Result{Name: name, Passed: true, Detail: resolved}
}

// CheckFreeSpace verifies that the filesystem holding path has at least
// required bytes available. Extraction can expand a unit up to the unpack
// ceiling, so anything less risks failing mid-run.
func CheckFreeSpace(name, path string, required int64) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	available := int64(stat.Bavail) * int64(stat.Bsize)
	if available < required {
		return Result{Name: name, Detail: fmt.Sprintf("%s available, need %s",
			humanize.IBytes(uint64(available)), humanize.IBytes(uint64(required)))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s available", humanize.IBytes(uint64(available)))}
}
