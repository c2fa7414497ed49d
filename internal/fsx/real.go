//go:build unix

package fsx

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sys/unix"
)

// Real is the production FileSystem, backed directly by POSIX syscalls via
// golang.org/x/sys/unix rather than os.Stat/os.Lstat, because the latter
// erase the inode/device pair Fingerprint and FileId need (os.FileInfo has
// no portable inode accessor). Grounded on
// original_source/src/shk/src/fs/persistent_file_system.cpp.
type Real struct{}

// NewReal returns the production FileSystem implementation.
func NewReal() *Real { return &Real{} }

type realStream struct {
	f *os.File
}

func (s *realStream) Read(p []byte) (int, error)  { return s.f.Read(p) }
func (s *realStream) Write(p []byte) (int, error) { return s.f.Write(p) }
func (s *realStream) Close() error                { return s.f.Close() }

func (r *Real) Open(path string, mode OpenMode) (Stream, error) {
	var flags int
	switch mode {
	case OpenReadOnly:
		flags = os.O_RDONLY
	case OpenAppend:
		flags = os.O_RDWR | os.O_CREATE | os.O_APPEND
	case OpenWriteTruncate:
		flags = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	default:
		return nil, fmt.Errorf("fsx: unknown open mode %d", mode)
	}
	f, err := os.OpenFile(path, flags, 0666)
	if err != nil {
		return nil, NewIoError("open", path, err)
	}
	return &realStream{f: f}, nil
}

type realMmap struct {
	data []byte
}

func (m *realMmap) Bytes() []byte { return m.data }
func (m *realMmap) Close() error {
	if len(m.data) == 0 {
		return nil
	}
	return unix.Munmap(m.data)
}

func (r *Real) Mmap(path string) (Mmap, error) {
	fi, statErr := os.Stat(path)
	if statErr != nil {
		return nil, NewIoError("stat", path, statErr)
	}
	if fi.Size() == 0 {
		return &realMmap{}, nil
	}
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, NewIoError("open", path, err)
	}
	defer unix.Close(fd)
	data, err := unix.Mmap(fd, 0, int(fi.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, NewIoError("mmap", path, err)
	}
	return &realMmap{data: data}, nil
}

func statFromUnix(st *unix.Stat_t) Stat {
	return Stat{
		Size:  uint64(st.Size),
		Ino:   uint64(st.Ino),
		Dev:   uint64(st.Dev),
		Mode:  uint32(st.Mode),
		MTime: time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
	}
}

func (r *Real) Stat(path string) (Stat, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Stat{}, NewIoError("stat", path, err)
	}
	return statFromUnix(&st), nil
}

func (r *Real) Lstat(path string) (Stat, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return Stat{}, NewIoError("lstat", path, err)
	}
	return statFromUnix(&st), nil
}

func (r *Real) Mkdir(path string) error {
	if err := unix.Mkdir(path, 0777); err != nil {
		return NewIoError("mkdir", path, err)
	}
	return nil
}

func (r *Real) Rmdir(path string) error {
	if err := unix.Rmdir(path); err != nil {
		return NewIoError("rmdir", path, err)
	}
	return nil
}

func (r *Real) Unlink(path string) error {
	if err := unix.Unlink(path); err != nil {
		return NewIoError("unlink", path, err)
	}
	return nil
}

func (r *Real) Rename(oldPath, newPath string) error {
	if err := unix.Rename(oldPath, newPath); err != nil {
		return NewIoError("rename", oldPath, err)
	}
	return nil
}

func (r *Real) Symlink(target, source string) error {
	if err := unix.Symlink(target, source); err != nil {
		return NewIoError("symlink", source, err)
	}
	return nil
}

func (r *Real) Truncate(path string, size int64) error {
	if err := unix.Truncate(path, size); err != nil {
		return NewIoError("truncate", path, err)
	}
	return nil
}

func (r *Real) ReadDir(path string) ([]DirEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewIoError("opendir", path, err)
	}
	defer f.Close()
	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, NewIoError("readdir", path, err)
	}
	sort.Strings(names)
	result := make([]DirEntry, 0, len(names))
	for _, name := range names {
		st, err := r.Lstat(path + "/" + name)
		kind := TypeUnknown
		if err == nil {
			switch {
			case st.IsDir():
				kind = TypeDir
			case st.IsSymlink():
				kind = TypeSymlink
			default:
				kind = TypeRegular
			}
		}
		result = append(result, DirEntry{Name: name, Type: kind})
	}
	return result, nil
}

func (r *Real) ReadSymlink(path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", NewIoError("readlink", path, err)
	}
	return target, nil
}

func (r *Real) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewIoError("read", path, err)
	}
	return data, nil
}

func (r *Real) WriteFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0666); err != nil {
		return NewIoError("write", path, err)
	}
	return nil
}

// HashFile content-hashes a file (regular file: stream its bytes;
// directory: hash the sorted name/type listing; symlink: hash the target
// string — callers pick the right source via Lstat before calling this).
// extra is prepended into the digest, matching
// persistent_file_system.cpp's hashFile(path, extra_data) so the same
// hash function can discriminate file kind.
func (r *Real) HashFile(path string, extra []byte) ([HashSize]byte, error) {
	var out [HashSize]byte
	h, err := blake2b.New(HashSize, nil)
	if err != nil {
		return out, err
	}
	if len(extra) > 0 {
		h.Write(extra)
	}

	st, err := r.Lstat(path)
	if err != nil {
		return out, err
	}

	switch {
	case st.IsSymlink():
		target, err := r.ReadSymlink(path)
		if err != nil {
			return out, err
		}
		h.Write([]byte(target))
	case st.IsDir():
		entries, err := r.ReadDir(path)
		if err != nil {
			return out, err
		}
		for _, e := range entries {
			fmt.Fprintf(h, "%d:%s\n", e.Type, e.Name)
		}
	default:
		f, err := os.Open(path)
		if err != nil {
			return out, NewIoError("open", path, err)
		}
		defer f.Close()
		buf := make([]byte, 64*1024)
		for {
			n, rerr := f.Read(buf)
			if n > 0 {
				h.Write(buf[:n])
			}
			if rerr != nil {
				break
			}
		}
	}

	copy(out[:], h.Sum(nil))
	return out, nil
}

// Mkstemp creates a unique file from a mkstemp(3)-style template (a path
// whose final path component ends in a run of "X" characters, e.g.
// "shk.tmp.log.XXXXXXXX"). The trailing run is replaced with Go's
// os.CreateTemp "*" placeholder; everything before it (including any
// directory prefix) is preserved verbatim.
func (r *Real) Mkstemp(template string) (string, error) {
	dir, base := filepath.Split(template)
	if dir == "" {
		dir = "."
	}
	i := len(base)
	for i > 0 && base[i-1] == 'X' {
		i--
	}
	pattern := base[:i] + "*"
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", NewIoError("mkstemp", template, err)
	}
	path := f.Name()
	f.Close()
	return path, nil
}

var _ FileSystem = (*Real)(nil)
