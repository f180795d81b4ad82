// Package ioutil provides the byte-level primitives the storage
// engine is built on: create-temp-then-rename, fsync-on-commit and
// permission cloning. Nothing here is FSFS-specific; every other
// package in fsfs/ goes through it instead of touching os directly.
package ioutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// AtomicWriteFile writes data to a temp file in the same directory as
// path, fsyncs it, then renames it into place. The rename is atomic
// on any POSIX filesystem, which is what makes the `current` bump and
// the revision-file-into-place move in the commit pipeline safe to
// interrupt at any point before the rename itself.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-")
	if err != nil {
		return errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing temp file %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "fsyncing temp file %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing temp file %s", tmpName)
	}
	_ = os.Chmod(tmpName, perm)
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "renaming %s to %s", tmpName, path)
	}
	return nil
}

// ClonePermissions copies the mode bits of src onto dst, so dst
// matches src's permissions rather than the process umask.
func ClonePermissions(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return errors.Wrapf(err, "stat %s", src)
	}
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return errors.Wrapf(err, "chmod %s", dst)
	}
	return nil
}

// RenameInto moves src to dst, first cloning dst's directory sibling
// permissions from refPerm if it exists (used by commit step 8, which
// borrows permissions from the previous revision file).
func RenameInto(src, dst, refPerm string) error {
	if refPerm != "" {
		if info, err := os.Stat(refPerm); err == nil {
			_ = os.Chmod(src, info.Mode().Perm())
		}
	}
	if err := os.Rename(src, dst); err != nil {
		return errors.Wrapf(err, "renaming %s to %s", src, dst)
	}
	return nil
}

// ShardDir returns base itself when shardSize is 0 (sharding disabled),
// or base/<rev/shardSize> otherwise. Shared by every package that needs
// to locate a revision or revprops file on disk.
func ShardDir(base string, rev int64, shardSize int) string {
	if shardSize <= 0 {
		return base
	}
	return filepath.Join(base, fmt.Sprintf("%d", rev/int64(shardSize)))
}

// EnsureDir creates path (and parents) if missing.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0777); err != nil {
		return errors.Wrapf(err, "mkdir %s", path)
	}
	return nil
}

// FsyncFile fsyncs an already-open file, wrapping the error with its
// name for the I/O-failure error category.
func FsyncFile(f *os.File) error {
	if err := f.Sync(); err != nil {
		return errors.Wrapf(err, "fsync %s", f.Name())
	}
	return nil
}

// ReadFileAt reads length bytes from path starting at offset. Used by
// the representation reader to fetch a delta base without holding the
// whole revision file open.
func ReadFileAt(path string, offset int64, length int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && n < length {
		return nil, errors.Wrapf(err, "read %s at %d (wanted %d, got %d)", path, offset, length, n)
	}
	return buf[:n], nil
}

// PathExists reports whether a file or directory exists at path.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SameFile compares (kind, size, mtime) the way hot-copy's same-file
// skip optimization does before recopying a revision.
func SameFile(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "stat %s", a)
	}
	bi, err := os.Stat(b)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "stat %s", b)
	}
	return ai.IsDir() == bi.IsDir() &&
		ai.Size() == bi.Size() &&
		ai.ModTime().Equal(bi.ModTime()), nil
}

// CopyFile copies src to dst, fsyncing the destination before return.
func CopyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return errors.Wrapf(err, "reading %s", src)
	}
	info, err := os.Stat(src)
	perm := os.FileMode(0644)
	if err == nil {
		perm = info.Mode().Perm()
	}
	if err := AtomicWriteFile(dst, data, perm); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return nil
}
