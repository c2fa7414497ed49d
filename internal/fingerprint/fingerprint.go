// Package fingerprint implements the content-and-metadata identity of a
// file and the "racily clean" rule that decides when a recorded fingerprint
// must be refreshed before it can be trusted again.
//
// Grounded on original_source/src/fingerprint.h and src/build.cpp's
// checkFingerprintMatches/isClean memoization pattern. The racily-clean
// discipline is the git racy-git algorithm referenced directly in the
// original header's doc comment.
package fingerprint

import (
	"time"

	"github.com/shurikenbuild/shuriken/internal/fsx"
)

// HashSize is the width of Hash, re-exported from fsx so callers never need
// to import fsx solely to size a buffer.
const HashSize = fsx.HashSize

// Hash is a fixed-size content digest. 20 bytes (160 bits) of BLAKE2b,
// matching fsx.HashSize and the width used by original_source's Hash type.
type Hash [fsx.HashSize]byte

// Stat is the restricted metadata subset a Fingerprint stores: size, inode,
// file-kind mode bits, and mtime. st_dev is intentionally excluded because
// it is not stable across network file systems (spec.md §3).
type Stat struct {
	Size  uint64
	Ino   uint64
	Mode  uint32
	MTime time.Time
}

func (s Stat) equal(o Stat) bool {
	return s.Size == o.Size && s.Ino == o.Ino && s.Mode == o.Mode && s.MTime.Equal(o.MTime)
}

// FileId identifies a physical file by (inode, device), used only in
// memory to detect that two different path strings refer to the same
// file — e.g. two build steps writing the same output.
type FileId struct {
	Ino uint64
	Dev uint64
}

// FileIdFromStat derives a FileId from an fsx.Stat result.
func FileIdFromStat(st fsx.Stat) FileId {
	return FileId{Ino: st.Ino, Dev: st.Dev}
}

// Fingerprint is the compact, comparable identity of a file at a moment in
// time. A zero-value Stat (Mode==0, Size==0) with hash set to zero
// represents "file does not exist" — a well-defined fingerprint that
// compares equal to other nonexistence fingerprints of the same path, per
// spec.md §4.B.
type Fingerprint struct {
	Stat      Stat
	Timestamp int64 // unix seconds the fingerprint was taken
	Hash      Hash
}

// Equal reports whether two fingerprints denote the same file identity:
// the stat subset and hash must match. Timestamp participates only in the
// racily-clean decision, never in equality (spec.md invariant).
func (f Fingerprint) Equal(o Fingerprint) bool {
	return f.Stat.equal(o.Stat) && f.Hash == o.Hash
}

// Clock returns the current wall-clock instant a fingerprint is taken at.
type Clock func() time.Time

// racilyCleanWindow is the "timestamp − mtime < 1s" threshold below which a
// fingerprint cannot be trusted to distinguish a further same-second
// modification without rehashing.
const racilyCleanWindow = time.Second

// Take computes the fingerprint of path at the instant now.
func Take(fs fsx.FileSystem, now Clock, path string) (Fingerprint, error) {
	st, err := fs.Lstat(path)
	if fsx.IsNotExist(err) {
		return Fingerprint{Timestamp: now().Unix()}, nil
	}
	if err != nil {
		return Fingerprint{}, err
	}

	h, err := hashFor(fs, path, st)
	if err != nil {
		return Fingerprint{}, err
	}

	return Fingerprint{
		Stat: Stat{
			Size:  st.Size,
			Ino:   st.Ino,
			Mode:  st.Mode,
			MTime: st.MTime,
		},
		Timestamp: now().Unix(),
		Hash:      h,
	}, nil
}

// hashFor content-hashes path according to its file kind: regular files by
// streaming content, directories by hashing the sorted (name,type) listing,
// symlinks by hashing the target string. The file-kind byte is prepended as
// "extra" data so two files of different kind but identical bytes never
// collide, matching persistent_file_system.cpp's hashFile(path, extra_data)
// convention.
func hashFor(fs fsx.FileSystem, path string, st fsx.Stat) (Hash, error) {
	var kind byte
	switch {
	case st.IsDir():
		kind = 'd'
	case st.IsSymlink():
		kind = 'l'
	default:
		kind = 'f'
	}
	raw, err := fs.HashFile(path, []byte{kind})
	if err != nil {
		return Hash{}, err
	}
	return Hash(raw), nil
}

// Equivalent reports whether fp's stat subset equals st's and fp's hash
// equals hash. This is stricter than Matches: a file rewritten with the same
// content but a new mtime or inode is not equivalent. Used by the scheduler's canSkipBuildCommand to recheck a
// clean-at-start step's inputs against files another step has just written,
// without re-reading or re-hashing the file from disk (the hash is already
// in hand from that other step's own fingerprinting).
func Equivalent(fp Fingerprint, st fsx.Stat, hash Hash) bool {
	current := Stat{Size: st.Size, Ino: st.Ino, Mode: st.Mode, MTime: st.MTime}
	return current.equal(fp.Stat) && hash == fp.Hash
}

// MatchesResult is the outcome of checking a fingerprint against the
// current state of a file.
type MatchesResult struct {
	Clean        bool
	ShouldUpdate bool
}

// Matches checks whether path still matches fp, applying the racily-clean
// discipline from spec.md §4.B:
//
//  1. lstat path.
//  2. If the current stat subset equals the recorded one:
//     - If timestamp-mtime >= 1s: clean, no update needed (fast path, no
//       rehash).
//     - Else (racily clean): rehash; clean iff the hash still matches;
//       ShouldUpdate asks the caller to re-persist a fresher fingerprint.
//  3. If the stat subset differs: rehash; clean iff the hash matches AND
//     the file kind is unchanged.
func Matches(fs fsx.FileSystem, path string, fp Fingerprint) (MatchesResult, error) {
	st, err := fs.Lstat(path)
	if fsx.IsNotExist(err) {
		// Nonexistence is itself a fingerprint value; compare structurally.
		current := Fingerprint{Timestamp: fp.Timestamp}
		return MatchesResult{Clean: current.Stat.equal(fp.Stat) && fp.Hash == Hash{}}, nil
	}
	if err != nil {
		return MatchesResult{}, err
	}

	currentStat := Stat{Size: st.Size, Ino: st.Ino, Mode: st.Mode, MTime: st.MTime}

	if currentStat.equal(fp.Stat) {
		if time.Unix(fp.Timestamp, 0).Sub(st.MTime) >= racilyCleanWindow {
			return MatchesResult{Clean: true, ShouldUpdate: false}, nil
		}
		// Racily clean: the recorded fingerprint was taken within one
		// second of the file's mtime, so a same-second modification
		// wouldn't have changed the stat subset. Rehash to be sure.
		h, err := hashFor(fs, path, st)
		if err != nil {
			return MatchesResult{}, err
		}
		clean := h == fp.Hash
		return MatchesResult{Clean: clean, ShouldUpdate: clean}, nil
	}

	h, err := hashFor(fs, path, st)
	if err != nil {
		return MatchesResult{}, err
	}
	clean := h == fp.Hash && (currentStat.Mode&fsx.ModeTypeMask) == (fp.Stat.Mode&fsx.ModeTypeMask)
	return MatchesResult{Clean: clean, ShouldUpdate: clean}, nil
}
