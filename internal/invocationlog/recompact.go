package invocationlog

import (
	"bytes"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/shurikenbuild/shuriken/internal/fingerprint"
	"github.com/shurikenbuild/shuriken/internal/fsx"
	"github.com/sirupsen/logrus"
)

// Recompact rewrites the invocation log at logPath from scratch, keeping
// only the entries and created-directory records that are still live in
// invocations, discarding every superseded PATH/DELETED record that
// accumulated along the way. Grounded on
// original_source/src/persistent_invocation_log.cpp's
// recompactPersistentInvocationLog: write a fresh log to a temp file, then
// atomically rename it over the original so a crash mid-recompaction never
// leaves the build without a usable log.
func Recompact(fs fsx.FileSystem, invocations Invocations, logPath string, clock fingerprint.Clock) error {
	tmpPath, err := fs.Mkstemp(filepath.Join(filepath.Dir(logPath), "shk.tmp.log.XXXXXXXX"))
	if err != nil {
		return errors.Wrap(err, "invocationlog: recompact mkstemp")
	}

	log, err := CreateFresh(fs, tmpPath, clock)
	if err != nil {
		return errors.Wrap(err, "invocationlog: recompact create")
	}

	for _, dir := range sortedCreatedDirectories(invocations.CreatedDirectories) {
		if err := log.CreatedDirectory(dir); err != nil {
			log.Close()
			return errors.Wrap(err, "invocationlog: recompact write created dir")
		}
	}

	for _, hash := range sortedEntryHashes(invocations.Entries) {
		entry := invocations.Entries[hash]
		outputs := resolveFiles(invocations.Fingerprints, entry.OutputFiles)
		inputs := resolveFiles(invocations.Fingerprints, entry.InputFiles)
		if err := log.RanCommand(hash, outputs, inputs); err != nil {
			log.Close()
			return errors.Wrap(err, "invocationlog: recompact write invocation")
		}
	}

	if err := log.Close(); err != nil {
		return errors.Wrap(err, "invocationlog: recompact close")
	}

	if err := fs.Rename(tmpPath, logPath); err != nil {
		return errors.Wrap(err, "invocationlog: recompact rename")
	}

	logrus.WithFields(logrus.Fields{
		"entries":     len(invocations.Entries),
		"directories": len(invocations.CreatedDirectories),
	}).Debug("invocation log recompacted")
	return nil
}

// sortedCreatedDirectories returns the directory paths in lexical order so
// Recompact re-emits CREATED_DIR records in a stable sequence instead of
// Go's randomized map iteration order, matching spec.md §8's idempotence
// property that recompacting the log twice produces byte-identical output.
func sortedCreatedDirectories(dirs map[fingerprint.FileId]string) []string {
	out := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out
}

// sortedEntryHashes returns the entry hashes in byte order for the same
// reason sortedCreatedDirectories does: stable INVOCATION record order
// across recompactions.
func sortedEntryHashes(entries map[Hash]Entry) []Hash {
	out := make([]Hash, 0, len(entries))
	for hash := range entries {
		out = append(out, hash)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func resolveFiles(pool []PathFingerprint, idx []int) []PathFingerprint {
	out := make([]PathFingerprint, len(idx))
	for i, id := range idx {
		out[i] = pool[id]
	}
	return out
}
