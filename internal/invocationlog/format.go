package invocationlog

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"github.com/shurikenbuild/shuriken/internal/fingerprint"
)

// unixNanoToTime maps the stored value 0 back to the zero time.Time, the
// MTime of a "file does not exist" fingerprint.
func unixNanoToTime(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// fileSignature is the 16-byte magic + version byte that begins every
// invocation log file, byte-identical to
// persistent_invocation_log.cpp's kFileSignature.
var fileSignature = []byte("invocations:\x00\x00\x00\x01")

// recordTag is the low 2 bits of a record's 32-bit header.
type recordTag uint32

const (
	tagPath       recordTag = 0
	tagCreatedDir recordTag = 1
	tagInvocation recordTag = 2
	tagDeleted    recordTag = 3
)

const tagMask = 0x3

// fingerprintSize is the fixed on-disk size of a Fingerprint record:
// size(8) + ino(8) + mode(4) + mtime(8) + timestamp(8) + hash(N).
const fingerprintSize = 8 + 8 + 4 + 8 + 8 + fingerprint.HashSize

func init() {
	// fingerprint.HashSize is defined in terms of fsx.HashSize; guard
	// against the two packages drifting apart silently.
	var h fingerprint.Hash
	if len(h) != fingerprint.HashSize {
		panic("invocationlog: fingerprint.Hash size mismatch")
	}
}

func encodeHeader(size uint32, tag recordTag) uint32 {
	return (size << 2) | uint32(tag)
}

func decodeHeader(h uint32) (size uint32, tag recordTag) {
	return h >> 2, recordTag(h & tagMask)
}

// padTo4 returns the number of zero padding bytes needed to make n a
// multiple of 4, matching the original's path-record alignment.
func padTo4(n int) int {
	return (4 - (n & 3)) % 4
}

func encodeFingerprint(fp fingerprint.Fingerprint) []byte {
	buf := make([]byte, fingerprintSize)
	binary.LittleEndian.PutUint64(buf[0:8], fp.Stat.Size)
	binary.LittleEndian.PutUint64(buf[8:16], fp.Stat.Ino)
	binary.LittleEndian.PutUint32(buf[16:20], fp.Stat.Mode)
	var mtime int64
	if !fp.Stat.MTime.IsZero() {
		mtime = fp.Stat.MTime.UnixNano()
	}
	binary.LittleEndian.PutUint64(buf[20:28], uint64(mtime))
	binary.LittleEndian.PutUint64(buf[28:36], uint64(fp.Timestamp))
	copy(buf[36:36+fingerprint.HashSize], fp.Hash[:])
	return buf
}

func decodeFingerprint(buf []byte) (fingerprint.Fingerprint, error) {
	if len(buf) < fingerprintSize {
		return fingerprint.Fingerprint{}, errors.New("invocationlog: truncated fingerprint")
	}
	var fp fingerprint.Fingerprint
	fp.Stat.Size = binary.LittleEndian.Uint64(buf[0:8])
	fp.Stat.Ino = binary.LittleEndian.Uint64(buf[8:16])
	fp.Stat.Mode = binary.LittleEndian.Uint32(buf[16:20])
	fp.Stat.MTime = unixNanoToTime(int64(binary.LittleEndian.Uint64(buf[20:28])))
	fp.Timestamp = int64(binary.LittleEndian.Uint64(buf[28:36]))
	copy(fp.Hash[:], buf[36:36+fingerprint.HashSize])
	return fp, nil
}
