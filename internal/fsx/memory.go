package fsx

import (
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sys/unix"
)

// Memory is an in-memory FileSystem used by tests throughout the core
// packages, grounded on original_source's test/in_memory_file_system.cpp
// test double: same contract as the real file system, no syscalls.
type Memory struct {
	mu        sync.Mutex
	files     map[string]*memFile
	dirs      map[string]bool
	symlinks  map[string]string
	nextIno   uint64
	now       time.Time
	mkstemps  []string // queued deterministic names, popped in order
	stempIdx  int
}

type memFile struct {
	data  []byte
	ino   uint64
	mtime time.Time
}

// NewMemory returns an empty in-memory file system rooted at "/".
func NewMemory() *Memory {
	return &Memory{
		files:    map[string]*memFile{},
		dirs:     map[string]bool{"/": true},
		symlinks: map[string]string{},
		nextIno:  1,
		now:      time.Unix(1000, 0),
	}
}

// SetTime fixes the clock Memory uses for mtimes on write.
func (m *Memory) SetTime(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// EnqueueMkstempResult makes the next call to Mkstemp return name instead
// of a random one, for deterministic tests (mirrors the original's
// fs.enqueueMkstempResult helper).
func (m *Memory) EnqueueMkstempResult(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkstemps = append(m.mkstemps, name)
}

func clean(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean(p)
}

type memStream struct {
	m    *Memory
	path string
	buf  bytes.Buffer
}

func (s *memStream) Read(p []byte) (int, error) {
	s.m.mu.Lock()
	f, ok := s.m.files[s.path]
	s.m.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("fsx: %s not found", s.path)
	}
	if s.buf.Len() == 0 {
		s.buf.Write(f.data)
	}
	return s.buf.Read(p)
}

func (s *memStream) Write(p []byte) (int, error) {
	n, err := s.buf.Write(p)
	if err != nil {
		return n, err
	}
	s.m.mu.Lock()
	s.m.writeLocked(s.path, s.buf.Bytes())
	s.m.mu.Unlock()
	return n, nil
}

func (s *memStream) Close() error { return nil }

func (m *Memory) writeLocked(p string, data []byte) {
	cp := clean(p)
	f, ok := m.files[cp]
	if !ok {
		f = &memFile{ino: m.nextIno}
		m.nextIno++
		m.files[cp] = f
	}
	f.data = append([]byte(nil), data...)
	f.mtime = m.now
}

func (m *Memory) Open(p string, mode OpenMode) (Stream, error) {
	cp := clean(p)
	m.mu.Lock()
	if mode == OpenWriteTruncate {
		m.writeLocked(cp, nil)
	} else if _, ok := m.files[cp]; !ok && mode == OpenAppend {
		m.writeLocked(cp, nil)
	}
	s := &memStream{m: m, path: cp}
	if mode == OpenAppend {
		if f, ok := m.files[cp]; ok {
			s.buf.Write(f.data)
		}
	}
	m.mu.Unlock()
	return s, nil
}

type memMmap struct{ data []byte }

func (m *memMmap) Bytes() []byte { return m.data }
func (m *memMmap) Close() error  { return nil }

func (m *Memory) Mmap(p string) (Mmap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[clean(p)]
	if !ok {
		return nil, NewIoError("mmap", p, unix.ENOENT)
	}
	return &memMmap{data: append([]byte(nil), f.data...)}, nil
}

func (m *Memory) statLocked(p string) (Stat, error) {
	cp := clean(p)
	if target, ok := m.symlinks[cp]; ok {
		_ = target
		return Stat{Mode: ModeSymlink, Size: uint64(len(m.symlinks[cp]))}, nil
	}
	if m.dirs[cp] {
		return Stat{Mode: ModeDir, Ino: hashIno(cp)}, nil
	}
	if f, ok := m.files[cp]; ok {
		return Stat{Mode: ModeRegular, Size: uint64(len(f.data)), Ino: f.ino, MTime: f.mtime}, nil
	}
	return Stat{}, NewIoError("stat", p, unix.ENOENT)
}

func hashIno(p string) uint64 {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(p))
	sum := h.Sum(nil)
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(sum[i])
	}
	return v
}

func (m *Memory) Stat(p string) (Stat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Memory has no real symlinks-to-follow semantics beyond one hop.
	cp := clean(p)
	if target, ok := m.symlinks[cp]; ok {
		return m.statLocked(target)
	}
	return m.statLocked(cp)
}

func (m *Memory) Lstat(p string) (Stat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statLocked(p)
}

func (m *Memory) Mkdir(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[clean(p)] = true
	return nil
}

func (m *Memory) Rmdir(p string) error {
	cp := clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	for f := range m.files {
		if path.Dir(f) == cp {
			return NewIoError("rmdir", p, unix.ENOTEMPTY)
		}
	}
	for d := range m.dirs {
		if d != cp && path.Dir(d) == cp {
			return NewIoError("rmdir", p, unix.ENOTEMPTY)
		}
	}
	if !m.dirs[cp] {
		return NewIoError("rmdir", p, unix.ENOENT)
	}
	delete(m.dirs, cp)
	return nil
}

func (m *Memory) Unlink(p string) error {
	cp := clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[cp]; !ok {
		if _, ok := m.symlinks[cp]; !ok {
			return NewIoError("unlink", p, unix.ENOENT)
		}
		delete(m.symlinks, cp)
		return nil
	}
	delete(m.files, cp)
	return nil
}

func (m *Memory) Rename(oldPath, newPath string) error {
	op, np := clean(oldPath), clean(newPath)
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[op]; ok {
		m.files[np] = f
		delete(m.files, op)
		return nil
	}
	return NewIoError("rename", oldPath, unix.ENOENT)
}

func (m *Memory) Symlink(target, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symlinks[clean(source)] = target
	return nil
}

func (m *Memory) Truncate(p string, size int64) error {
	cp := clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[cp]
	if !ok {
		return NewIoError("truncate", p, unix.ENOENT)
	}
	if int64(len(f.data)) > size {
		f.data = f.data[:size]
	}
	return nil
}

func (m *Memory) ReadDir(p string) ([]DirEntry, error) {
	cp := clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for f := range m.files {
		if path.Dir(f) == cp {
			names = append(names, path.Base(f))
		}
	}
	for d := range m.dirs {
		if d != cp && path.Dir(d) == cp {
			names = append(names, path.Base(d))
		}
	}
	sort.Strings(names)
	result := make([]DirEntry, 0, len(names))
	for _, n := range names {
		full := path.Join(cp, n)
		kind := TypeRegular
		if m.dirs[full] {
			kind = TypeDir
		} else if _, ok := m.symlinks[full]; ok {
			kind = TypeSymlink
		}
		result = append(result, DirEntry{Name: n, Type: kind})
	}
	return result, nil
}

func (m *Memory) ReadSymlink(p string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.symlinks[clean(p)]
	if !ok {
		return "", NewIoError("readlink", p, unix.ENOENT)
	}
	return target, nil
}

func (m *Memory) ReadFile(p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[clean(p)]
	if !ok {
		return nil, NewIoError("read", p, unix.ENOENT)
	}
	return append([]byte(nil), f.data...), nil
}

func (m *Memory) WriteFile(p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeLocked(p, data)
	return nil
}

func (m *Memory) HashFile(p string, extra []byte) ([HashSize]byte, error) {
	var out [HashSize]byte
	h, _ := blake2b.New(HashSize, nil)
	if len(extra) > 0 {
		h.Write(extra)
	}

	st, err := m.Lstat(p)
	if err != nil {
		return out, err
	}
	switch {
	case st.IsSymlink():
		target, err := m.ReadSymlink(p)
		if err != nil {
			return out, err
		}
		h.Write([]byte(target))
	case st.IsDir():
		entries, err := m.ReadDir(p)
		if err != nil {
			return out, err
		}
		for _, e := range entries {
			fmt.Fprintf(h, "%d:%s\n", e.Type, e.Name)
		}
	default:
		data, err := m.ReadFile(p)
		if err != nil {
			return out, err
		}
		h.Write(data)
	}
	copy(out[:], h.Sum(nil))
	return out, nil
}

func (m *Memory) Mkstemp(template string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stempIdx < len(m.mkstemps) {
		name := m.mkstemps[m.stempIdx]
		m.stempIdx++
		return name, nil
	}
	name := strings.ReplaceAll(template, "XXXXXXXX", fmt.Sprintf("%08d", m.nextIno))
	m.nextIno++
	return name, nil
}

var _ FileSystem = (*Memory)(nil)
