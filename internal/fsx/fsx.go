// Package fsx is the file-system capability that every other Shuriken core
// component depends on: stat, read, write, hash, mmap, mkstemp and symlink
// operations behind a single interface so the planner, scheduler and
// invocation log never talk to the operating system directly.
//
// Grounded on original_source/src/shk/src/fs/persistent_file_system.cpp and
// original_source/src/disk_interface.h (the abstract DiskInterface contract),
// with low-level syscalls supplied by golang.org/x/sys/unix instead of cgo.
package fsx

import (
	"io"
	"time"
)

// DirEntryType classifies a directory entry the way readdir(3) does.
type DirEntryType int

const (
	TypeUnknown DirEntryType = iota
	TypeFIFO
	TypeChr
	TypeDir
	TypeBlock
	TypeRegular
	TypeSymlink
	TypeSocket
)

// DirEntry is one entry returned by ReadDir.
type DirEntry struct {
	Name string
	Type DirEntryType
}

// Stat is the restricted metadata subset Shuriken fingerprints care about.
// It deliberately excludes st_dev (not stable across network file systems,
// per spec.md's Fingerprint.Stat note) except where FileId needs it to
// disambiguate inodes on the same host during a single build.
type Stat struct {
	Size  uint64
	Ino   uint64
	Dev   uint64
	Mode  uint32
	MTime time.Time
}

// IsDir reports whether Mode's file-kind bits describe a directory.
func (s Stat) IsDir() bool { return s.Mode&ModeTypeMask == ModeDir }

// IsSymlink reports whether Mode's file-kind bits describe a symlink.
func (s Stat) IsSymlink() bool { return s.Mode&ModeTypeMask == ModeSymlink }

// File-kind bits, independent of platform-specific mode_t layout. Only the
// kind matters to Shuriken; permission bits are not part of a Fingerprint.
const (
	ModeTypeMask = 0xF000
	ModeDir      = 0x4000
	ModeRegular  = 0x8000
	ModeSymlink  = 0xA000
)

// Stream is a sequential read/write handle, used by the invocation log to
// append records and to write the fresh log during recompaction.
type Stream interface {
	io.ReadWriteCloser
}

// Mmap is a whole-file read-only memory mapping. The invocation log parser
// does not use it: it reads the log into the heap with ReadFile.
type Mmap interface {
	Bytes() []byte
	Close() error
}

// FileSystem is the capability every other core component consumes. All
// methods report errors as *IoError (a not-found error is recognized with
// IsNotExist) so callers can make the
// fail-on-ENOENT vs tolerate-on-ENOENT decision themselves, per spec.md
// §4.A.
type FileSystem interface {
	Open(path string, mode OpenMode) (Stream, error)
	Mmap(path string) (Mmap, error)

	// Stat follows symlinks; Lstat does not. Output-symlink correctness
	// depends on callers using Lstat when fingerprinting.
	Stat(path string) (Stat, error)
	Lstat(path string) (Stat, error)

	Mkdir(path string) error
	Rmdir(path string) error
	Unlink(path string) error
	Rename(oldPath, newPath string) error
	Symlink(target, source string) error
	Truncate(path string, size int64) error

	ReadDir(path string) ([]DirEntry, error)
	ReadFile(path string) ([]byte, error)
	ReadSymlink(path string) (string, error)
	WriteFile(path string, data []byte) error

	// HashFile content-hashes path. extra is prepended into the digest so
	// callers can discriminate file-kind (regular/dir-listing/symlink-target)
	// with a single hash function, matching persistent_file_system.cpp's
	// hashFile(path, extra_data).
	HashFile(path string, extra []byte) ([HashSize]byte, error)

	// Mkstemp creates a unique file atomically from template (a mkstemp(3)
	// "XXXXXXXX" suffix pattern) and returns its path. The file handle is
	// closed immediately; callers reopen it if they need to write.
	Mkstemp(template string) (string, error)
}

// OpenMode mirrors the small set of modes the invocation log and rspfile
// writer actually need; it is not a general-purpose POSIX flag bitset.
type OpenMode int

const (
	OpenReadOnly OpenMode = iota
	OpenAppend
	OpenWriteTruncate
)

// HashSize is the width of the content hash fsx produces, chosen to match
// internal/fingerprint's Hash type so the two packages never disagree on
// size. BLAKE2b is configured for this width in the real implementation.
const HashSize = 20
