package invocationlog

import (
	"encoding/binary"

	"github.com/shurikenbuild/shuriken/internal/fingerprint"
	"github.com/shurikenbuild/shuriken/internal/fsx"
	"github.com/sirupsen/logrus"
)

// Log is the write side of the invocation log: an append-only stream of
// framed records. Grounded on
// original_source/src/persistent_invocation_log.cpp's
// PersistentInvocationLog.
type Log struct {
	fs       fsx.FileSystem
	stream   fsx.Stream
	path     string
	pathIDs  map[string]uint32
	entryCnt uint32
	clock    fingerprint.Clock
	logger   *logrus.Entry
}

// Open appends to (or creates) the invocation log at path. pathIDs and
// entryCount carry forward the path interning state from a prior Parse
// call, so writes continue the numbering rather than reassigning IDs.
func Open(fs fsx.FileSystem, path string, pathIDs map[string]uint32, entryCount uint32, clock fingerprint.Clock) (*Log, error) {
	stream, err := fs.Open(path, fsx.OpenAppend)
	if err != nil {
		return nil, err
	}
	if pathIDs == nil {
		pathIDs = map[string]uint32{}
	}
	return &Log{
		fs:       fs,
		stream:   stream,
		path:     path,
		pathIDs:  pathIDs,
		entryCnt: entryCount,
		clock:    clock,
		logger:   logrus.WithField("component", "invocationlog"),
	}, nil
}

// CreateFresh creates a brand-new log file with the signature header,
// used both for the first build in a directory and by Recompact for its
// temporary output file.
func CreateFresh(fs fsx.FileSystem, path string, clock fingerprint.Clock) (*Log, error) {
	stream, err := fs.Open(path, fsx.OpenWriteTruncate)
	if err != nil {
		return nil, err
	}
	if _, err := stream.Write(fileSignature); err != nil {
		stream.Close()
		return nil, err
	}
	return &Log{
		fs:      fs,
		stream:  stream,
		path:    path,
		pathIDs: map[string]uint32{},
		clock:   clock,
		logger:  logrus.WithField("component", "invocationlog"),
	}, nil
}

// Close releases the underlying stream.
func (l *Log) Close() error { return l.stream.Close() }

func (l *Log) writeHeader(size int, tag recordTag) error {
	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint32(hdr, encodeHeader(uint32(size), tag))
	_, err := l.stream.Write(hdr)
	return err
}

// idForPath interns path, writing a PATH record the first time it is seen.
func (l *Log) idForPath(path string) (uint32, error) {
	if id, ok := l.pathIDs[path]; ok {
		return id, nil
	}
	id := l.entryCnt
	if err := l.writePath(path); err != nil {
		return 0, err
	}
	l.pathIDs[path] = id
	return id, nil
}

func (l *Log) writePath(path string) error {
	padding := padTo4(len(path))
	if err := l.writeHeader(len(path)+padding, tagPath); err != nil {
		return err
	}
	if _, err := l.stream.Write([]byte(path)); err != nil {
		return err
	}
	if padding > 0 {
		if _, err := l.stream.Write(make([]byte, padding)); err != nil {
			return err
		}
	}
	l.entryCnt++
	return nil
}

// CreatedDirectory records that the build created dir to make room for an
// output; it becomes eligible for removal by a later cleanup pass.
func (l *Log) CreatedDirectory(dir string) error {
	id, err := l.idForPath(dir)
	if err != nil {
		return err
	}
	if err := l.writeHeader(4, tagCreatedDir); err != nil {
		return err
	}
	if err := l.writeUint32(id); err != nil {
		return err
	}
	l.entryCnt++
	return nil
}

// RemovedDirectory cancels a prior CreatedDirectory record. It must not be
// called for a directory that was never logged as created.
func (l *Log) RemovedDirectory(dir string) error {
	id, ok := l.pathIDs[dir]
	if !ok {
		l.logger.WithField("dir", dir).Warn("removedDirectory called for a directory Shuriken never created")
		return nil
	}
	if err := l.writeHeader(4, tagDeleted); err != nil {
		return err
	}
	if err := l.writeUint32(id); err != nil {
		return err
	}
	l.entryCnt++
	return nil
}

func (l *Log) writeUint32(v uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	_, err := l.stream.Write(buf)
	return err
}

// RanCommand writes one INVOCATION record: outputs first, then inputs,
// deduplicating path interning by path_id exactly as
// persistent_invocation_log.cpp's ranCommand. Every path must be interned
// (emitting any needed PATH record) in a pre-pass before the INVOCATION
// header is written, so a PATH record never lands inside another record's
// body.
func (l *Log) RanCommand(hash Hash, outputs, inputs []PathFingerprint) error {
	outputIDs, err := l.internPathIDs(outputs)
	if err != nil {
		return err
	}
	inputIDs, err := l.internPathIDs(inputs)
	if err != nil {
		return err
	}

	size := len(hash) + 4 + len(outputs)*(4+fingerprintSize) + len(inputs)*(4+fingerprintSize)
	if err := l.writeHeader(size, tagInvocation); err != nil {
		return err
	}
	if _, err := l.stream.Write(hash[:]); err != nil {
		return err
	}
	if err := l.writeUint32(uint32(len(outputs))); err != nil {
		return err
	}
	if err := l.writeInvocationFiles(outputs, outputIDs); err != nil {
		return err
	}
	if err := l.writeInvocationFiles(inputs, inputIDs); err != nil {
		return err
	}
	l.entryCnt++
	return nil
}

func (l *Log) internPathIDs(files []PathFingerprint) ([]uint32, error) {
	ids := make([]uint32, len(files))
	for i, pf := range files {
		id, err := l.idForPath(pf.Path)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (l *Log) writeInvocationFiles(files []PathFingerprint, ids []uint32) error {
	for i, pf := range files {
		if err := l.writeUint32(ids[i]); err != nil {
			return err
		}
		if _, err := l.stream.Write(encodeFingerprint(pf.Fingerprint)); err != nil {
			return err
		}
	}
	return nil
}

// CleanedCommand writes a DELETED(hash) record, marking a step hash as no
// longer having a live invocation (used both when a step is found stale
// and, via recompaction, never re-emitted at all).
func (l *Log) CleanedCommand(hash Hash) error {
	if err := l.writeHeader(len(hash), tagDeleted); err != nil {
		return err
	}
	if _, err := l.stream.Write(hash[:]); err != nil {
		return err
	}
	l.entryCnt++
	return nil
}

// Fingerprint takes a fresh fingerprint of path and returns it alongside
// the file's current FileId, for callers that need both (e.g. the
// scheduler when building an INVOCATION record).
func (l *Log) Fingerprint(fs fsx.FileSystem, path string) (fingerprint.Fingerprint, fingerprint.FileId, error) {
	fp, err := fingerprint.Take(fs, l.clock, path)
	if err != nil {
		return fingerprint.Fingerprint{}, fingerprint.FileId{}, err
	}
	st, err := fs.Lstat(path)
	if fsx.IsNotExist(err) {
		return fp, fingerprint.FileId{}, nil
	}
	if err != nil {
		return fingerprint.Fingerprint{}, fingerprint.FileId{}, err
	}
	return fp, fingerprint.FileIdFromStat(st), nil
}
