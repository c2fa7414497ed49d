package invocationlog

import (
	"encoding/binary"

	"github.com/shurikenbuild/shuriken/internal/fingerprint"
	"github.com/shurikenbuild/shuriken/internal/fsx"
	"github.com/sirupsen/logrus"
)

// ParseResult is everything Parse recovers from an on-disk log, plus enough
// bookkeeping for a subsequent Log.Open to keep appending without
// reassigning path IDs.
type ParseResult struct {
	Invocations Invocations

	// PathIDs contains every path interned anywhere in the log (by PATH,
	// CREATED_DIR or INVOCATION records), so a subsequent Log.Open never
	// re-assigns an id and never re-writes a PATH record for a path the log
	// already knows about.
	PathIDs map[string]uint32

	// CreatedDirectoryPaths is the live set of directories the log still
	// considers Shuriken-created: CREATED_DIR records not yet cancelled by a
	// DELETED(path_id) record. The log alone can't derive a FileId (that
	// needs a live Lstat), so the caller resolves these against the current
	// tree to populate Invocations.CreatedDirectories.
	CreatedDirectoryPaths map[string]bool

	EntryCount uint32

	// Warning is set when the scan stopped early because of a malformed
	// trailing record (e.g. a crash mid-write). Parse always returns the
	// entries recovered up to that point; it never fails outright on a
	// corrupt tail.
	Warning error

	// NeedsRecompaction mirrors the original's entry_count > max(1000,
	// unique_record_count*3) heuristic (spec.md §4.C).
	NeedsRecompaction bool
}

// Parse reads the invocation log at path from scratch, building the
// Invocations state a build starts a session from. A missing file is not an
// error: it means no prior build has ever run here.
//
// Grounded on original_source/src/persistent_invocation_log.cpp's
// parsePersistentInvocationLog: a straight-line scan of framed records,
// truncating to the last fully-parsed record boundary on any corruption and
// reporting it as a non-fatal warning rather than failing the whole build.
func Parse(fs fsx.FileSystem, path string) (ParseResult, error) {
	data, err := fs.ReadFile(path)
	if fsx.IsNotExist(err) {
		return ParseResult{
			Invocations:           NewInvocations(),
			PathIDs:               map[string]uint32{},
			CreatedDirectoryPaths: map[string]bool{},
		}, nil
	}
	if err != nil {
		return ParseResult{}, err
	}

	result := ParseResult{
		Invocations:           NewInvocations(),
		PathIDs:               map[string]uint32{},
		CreatedDirectoryPaths: map[string]bool{},
	}

	if len(data) < len(fileSignature) {
		result.Warning = parseErrorf("invocation log: truncated signature")
		return truncateAndReturn(fs, path, 0, 0, result)
	}
	for i, b := range fileSignature {
		if data[i] != b {
			result.Warning = parseErrorf("invocation log: bad signature")
			return truncateAndReturn(fs, path, 0, 0, result)
		}
	}

	offset := len(fileSignature)
	// pathsByID is keyed by the global record index a PATH record occupied
	// when written (the same id the writer embeds in later CREATED_DIR,
	// DELETED and INVOCATION records) — not by how many PATH records have
	// been seen, since non-path records occupy ids too.
	pathsByID := map[uint32]string{}
	uniqueRecords := uint32(0)

	for offset < len(data) {
		lastGood := offset
		size, tag, newOffset, err := readRecord(data, offset)
		if err != nil {
			result.Warning = err
			return truncateAndReturn(fs, path, lastGood, uniqueRecords, result)
		}

		body := data[offset+4 : offset+4+int(size)]
		switch tag {
		case tagPath:
			p := string(body)
			pathsByID[uniqueRecords] = p
			result.PathIDs[p] = uniqueRecords
		case tagCreatedDir:
			if len(body) < 4 {
				result.Warning = parseErrorf("invocation log: truncated CREATED_DIR record")
				return truncateAndReturn(fs, path, lastGood, uniqueRecords, result)
			}
			id := binary.LittleEndian.Uint32(body[0:4])
			p, perr := resolvePath(pathsByID, id)
			if perr != nil {
				result.Warning = perr
				return truncateAndReturn(fs, path, lastGood, uniqueRecords, result)
			}
			result.CreatedDirectoryPaths[p] = true
		case tagDeleted:
			switch len(body) {
			case 4:
				id := binary.LittleEndian.Uint32(body[0:4])
				p, perr := resolvePath(pathsByID, id)
				if perr != nil {
					result.Warning = perr
					return truncateAndReturn(fs, path, lastGood, uniqueRecords, result)
				}
				delete(result.CreatedDirectoryPaths, p)
			case fingerprint.HashSize:
				var hash Hash
				copy(hash[:], body)
				delete(result.Invocations.Entries, hash)
			default:
				result.Warning = parseErrorf("invocation log: malformed DELETED record of size %d", len(body))
				return truncateAndReturn(fs, path, lastGood, uniqueRecords, result)
			}
		case tagInvocation:
			entry, fps, perr := parseInvocationBody(body, pathsByID)
			if perr != nil {
				result.Warning = perr
				return truncateAndReturn(fs, path, lastGood, uniqueRecords, result)
			}
			hash := entry.hash
			base := len(result.Invocations.Fingerprints)
			result.Invocations.Fingerprints = append(result.Invocations.Fingerprints, fps...)
			outIdx := make([]int, len(entry.outputs))
			for i := range entry.outputs {
				outIdx[i] = base + i
			}
			inIdx := make([]int, len(entry.inputs))
			for i := range entry.inputs {
				inIdx[i] = base + len(entry.outputs) + i
			}
			result.Invocations.Entries[hash] = Entry{OutputFiles: outIdx, InputFiles: inIdx}
		}
		uniqueRecords++
		offset = newOffset
	}

	// CreatedDirectories needs a FileId, which requires a live Lstat; the
	// caller resolves CreatedDirectoryPaths against the current tree via
	// ResolveCreatedDirectories once it has opened the real fsx.FileSystem.
	result.EntryCount = uniqueRecords
	liveRecords := uint32(len(result.Invocations.Entries) + len(result.CreatedDirectoryPaths))
	result.NeedsRecompaction = needsRecompaction(result.EntryCount, liveRecords)

	if result.Warning != nil {
		logrus.WithError(result.Warning).Warn("invocation log: recovered after truncating a corrupt tail")
	}
	return result, nil
}

func needsRecompaction(entryCount, liveRecords uint32) bool {
	threshold := liveRecords * 3
	if threshold < 1000 {
		threshold = 1000
	}
	return entryCount > threshold
}

// ResolveCreatedDirectories stats each path in CreatedDirectoryPaths and
// populates Invocations.CreatedDirectories, keyed by FileId the way the rest
// of the build pipeline expects. A directory that no longer exists is
// simply dropped; cleanup logic treats a missing directory as already gone.
func (r *ParseResult) ResolveCreatedDirectories(fs fsx.FileSystem) error {
	for p := range r.CreatedDirectoryPaths {
		st, err := fs.Lstat(p)
		if fsx.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		r.Invocations.CreatedDirectories[fingerprint.FileIdFromStat(st)] = p
	}
	return nil
}

func resolvePath(pathsByID map[uint32]string, id uint32) (string, error) {
	p, ok := pathsByID[id]
	if !ok {
		return "", parseErrorf("invocation log: reference to unknown path id %d", id)
	}
	return p, nil
}

// readRecord decodes one record's header and validates its body fits within
// data, returning the offset of the next record.
func readRecord(data []byte, offset int) (size uint32, tag recordTag, nextOffset int, err error) {
	if offset+4 > len(data) {
		return 0, 0, 0, parseErrorf("invocation log: truncated record header")
	}
	header := binary.LittleEndian.Uint32(data[offset : offset+4])
	size, tag = decodeHeader(header)
	bodyEnd := offset + 4 + int(size)
	if bodyEnd > len(data) || bodyEnd < offset {
		return 0, 0, 0, parseErrorf("invocation log: truncated record body")
	}
	return size, tag, bodyEnd, nil
}

type invocationBody struct {
	hash    Hash
	outputs []uint32
	inputs  []uint32
}

func parseInvocationBody(body []byte, pathsByID map[uint32]string) (invocationBody, []PathFingerprint, error) {
	if len(body) < fingerprint.HashSize+4 {
		return invocationBody{}, nil, parseErrorf("invocation log: truncated INVOCATION record")
	}
	var inv invocationBody
	copy(inv.hash[:], body[:fingerprint.HashSize])
	cursor := fingerprint.HashSize
	outputCount := binary.LittleEndian.Uint32(body[cursor : cursor+4])
	cursor += 4

	entrySize := 4 + fingerprintSize
	var fps []PathFingerprint
	readEntries := func(count int) ([]uint32, error) {
		ids := make([]uint32, 0, count)
		for i := 0; i < count; i++ {
			if cursor+entrySize > len(body) {
				return nil, parseErrorf("invocation log: truncated INVOCATION file entry")
			}
			id := binary.LittleEndian.Uint32(body[cursor : cursor+4])
			cursor += 4
			fp, err := decodeFingerprint(body[cursor : cursor+fingerprintSize])
			if err != nil {
				return nil, err
			}
			cursor += fingerprintSize
			p, perr := resolvePath(pathsByID, id)
			if perr != nil {
				return nil, perr
			}
			fps = append(fps, PathFingerprint{Path: p, Fingerprint: fp})
			ids = append(ids, id)
		}
		return ids, nil
	}

	outIDs, err := readEntries(int(outputCount))
	if err != nil {
		return invocationBody{}, nil, err
	}
	// Remaining body is entirely input files.
	remaining := (len(body) - cursor) / entrySize
	inIDs, err := readEntries(remaining)
	if err != nil {
		return invocationBody{}, nil, err
	}
	inv.outputs = outIDs
	inv.inputs = inIDs
	return inv, fps, nil
}

// truncateAndReturn rewrites the on-disk log to goodOffset bytes, the
// crash-recovery side effect of discovering a corrupt tail record: the next
// write session continues from known-good state instead of re-reading the
// garbage tail every time.
func truncateAndReturn(fs fsx.FileSystem, path string, goodOffset int, scannedRecords uint32, result ParseResult) (ParseResult, error) {
	if err := fs.Truncate(path, int64(goodOffset)); err != nil && !fsx.IsNotExist(err) {
		return result, err
	}
	result.EntryCount = scannedRecords
	liveRecords := uint32(len(result.Invocations.Entries) + len(result.CreatedDirectoryPaths))
	result.NeedsRecompaction = needsRecompaction(result.EntryCount, liveRecords)
	return result, nil
}
