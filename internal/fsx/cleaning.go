package fsx

import "golang.org/x/sys/unix"

// CleaningFileSystem decorates a FileSystem for the "clean" tool path: it
// counts the files and directories it removes, reports every Stat/Lstat as
// nonexistent so nothing downstream is ever mistaken for up to date, and
// never creates a directory — clean only tears down, it never builds.
//
// Grounded on original_source/src/shk/src/fs/cleaning_file_system.cpp.
type CleaningFileSystem struct {
	inner        FileSystem
	removedCount int
}

// NewCleaningFileSystem wraps inner for use by the clean tool.
func NewCleaningFileSystem(inner FileSystem) *CleaningFileSystem {
	return &CleaningFileSystem{inner: inner}
}

// RemovedCount reports how many rmdir/unlink calls succeeded so far.
func (c *CleaningFileSystem) RemovedCount() int { return c.removedCount }

func (c *CleaningFileSystem) Open(path string, mode OpenMode) (Stream, error) {
	return c.inner.Open(path, mode)
}

func (c *CleaningFileSystem) Mmap(path string) (Mmap, error) {
	return c.inner.Mmap(path)
}

// Stat and Lstat always report ENOENT: everything clean touches should be
// treated as dirty, so a step's output is never mistakenly skipped.
func (c *CleaningFileSystem) Stat(path string) (Stat, error) {
	return Stat{}, NewIoError("stat", path, unix.ENOENT)
}

func (c *CleaningFileSystem) Lstat(path string) (Stat, error) {
	return Stat{}, NewIoError("lstat", path, unix.ENOENT)
}

// Mkdir is a no-op: clean only removes files, it never prepares a tree for
// a subsequent build.
func (c *CleaningFileSystem) Mkdir(path string) error { return nil }

func (c *CleaningFileSystem) Rmdir(path string) error {
	if err := c.inner.Rmdir(path); err != nil {
		return err
	}
	c.removedCount++
	return nil
}

func (c *CleaningFileSystem) Unlink(path string) error {
	if err := c.inner.Unlink(path); err != nil {
		return err
	}
	c.removedCount++
	return nil
}

func (c *CleaningFileSystem) Rename(oldPath, newPath string) error {
	return c.inner.Rename(oldPath, newPath)
}

func (c *CleaningFileSystem) Symlink(target, source string) error {
	return c.inner.Symlink(target, source)
}

func (c *CleaningFileSystem) Truncate(path string, size int64) error {
	return c.inner.Truncate(path, size)
}

func (c *CleaningFileSystem) ReadDir(path string) ([]DirEntry, error) {
	return c.inner.ReadDir(path)
}

func (c *CleaningFileSystem) ReadFile(path string) ([]byte, error) {
	return c.inner.ReadFile(path)
}

func (c *CleaningFileSystem) ReadSymlink(path string) (string, error) {
	return c.inner.ReadSymlink(path)
}

func (c *CleaningFileSystem) WriteFile(path string, data []byte) error {
	return c.inner.WriteFile(path, data)
}

func (c *CleaningFileSystem) HashFile(path string, extra []byte) ([HashSize]byte, error) {
	return c.inner.HashFile(path, extra)
}

func (c *CleaningFileSystem) Mkstemp(template string) (string, error) {
	return c.inner.Mkstemp(template)
}

var _ FileSystem = (*CleaningFileSystem)(nil)
