package runlock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"docprep/internal/services"
)

// LockFileName is the lock file created inside the batch data root.
const LockFileName = ".docprep.lock"

// Lock enforces a single pipeline run per data directory.
type Lock struct {
	path  string
	flock *flock.Flock
}

// New returns a Lock anchored at the given data root. The lock file is not
// touched until Acquire is called.
func New(dataDir string) *Lock {
	path := filepath.Join(dataDir, LockFileName)
	return &Lock{path: path, flock: flock.New(path)}
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Acquire takes the lock without blocking. A held lock from another process
// yields a configuration error naming the lock file.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("prepare lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return services.Wrap(services.ErrConfiguration, "runlock", "acquire",
			fmt.Sprintf("another docprep run holds %s", l.path), nil)
	}
	return nil
}

// Release drops the lock. Safe to call when the lock was never acquired.
func (l *Lock) Release() error {
	return l.flock.Unlock()
}
