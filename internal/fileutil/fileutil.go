package fileutil

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// CopyFile streams src to dst using io.Copy with default permissions (0o644).
func CopyFile(src, dst string) error {
	return CopyFileMode(src, dst, 0o644)
}

// CopyFileMode streams src to dst, setting the given file mode on dst.
func CopyFileMode(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// CopyFileVerified streams src to dst with SHA256 + size integrity verification.
// Removes dst on mismatch.
func CopyFileVerified(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	srcSize := srcInfo.Size()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(in, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := io.Copy(multi, tee)
	if err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if written != srcSize {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcSize, written)
	}

	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}

	return nil
}

// WriteFileSync writes data to path and forces it to stable storage before
// returning. Callers that derive directory moves from the file's contents
// rely on this ordering for crash recovery.
func WriteFileSync(path string, data []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// CopyDirVerified recursively copies src into dst (which must not already
// exist), verifying every regular file with CopyFileVerified. Symlinks are
// skipped; a document bundle should never contain them.
func CopyDirVerified(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("copy destination already exists: %s", dst)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			return nil
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			return CopyFileVerified(path, target)
		}
	})
}

// SafeMoveDir relocates src to dst using a stage-then-commit discipline:
// copy into a temporary sibling of dst with per-file verification, rename the
// staged copy into place, and only then delete src. The staged copy is
// removed on any failure, so a crash mid-move never leaves dst half-written.
func SafeMoveDir(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("move destination already exists: %s", dst)
	}
	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create destination parent: %w", err)
	}

	staging, err := os.MkdirTemp(parent, ".staging-"+filepath.Base(dst)+"-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	staged := filepath.Join(staging, filepath.Base(dst))
	if err := CopyDirVerified(src, staged); err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("stage copy: %w", err)
	}
	if err := os.Rename(staged, dst); err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("commit staged copy: %w", err)
	}
	_ = os.RemoveAll(staging)

	if err := os.RemoveAll(src); err != nil {
		return fmt.Errorf("remove source after move: %w", err)
	}
	return nil
}

// DirSize sums the sizes of all regular files under root.
func DirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// IsEmptyDir reports whether path is a directory with no entries.
func IsEmptyDir(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// PruneEmptyParents removes empty ancestor directories of path, walking
// upward until a non-empty directory or the stop root is reached. The stop
// root itself is never removed.
func PruneEmptyParents(path, stop string) {
	stop = filepath.Clean(stop)
	dir := filepath.Clean(path)
	for dir != stop && len(dir) > len(stop) {
		empty, err := IsEmptyDir(dir)
		if err != nil || !empty {
			return
		}
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
