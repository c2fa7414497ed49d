package invocationlog

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shurikenbuild/shuriken/internal/fingerprint"
	"github.com/shurikenbuild/shuriken/internal/fsx"
	"github.com/stretchr/testify/require"
)

func clockAt(t time.Time) fingerprint.Clock {
	return func() time.Time { return t }
}

func takeFP(t *testing.T, fs fsx.FileSystem, clock fingerprint.Clock, path string) PathFingerprint {
	t.Helper()
	fp, err := fingerprint.Take(fs, clock, path)
	require.NoError(t, err)
	return PathFingerprint{Path: path, Fingerprint: fp}
}

func TestRoundTripInvocationLog(t *testing.T) {
	fs := fsx.NewMemory()
	fs.SetTime(time.Unix(1000, 0))
	require.NoError(t, fs.WriteFile("/src.c", []byte("int main(){}")))
	require.NoError(t, fs.WriteFile("/out.o", []byte("object")))
	require.NoError(t, fs.Mkdir("/build"))

	clock := clockAt(time.Unix(1003, 0))

	log, err := CreateFresh(fs, "/log", clock)
	require.NoError(t, err)

	require.NoError(t, log.CreatedDirectory("/build"))

	var hash Hash
	hash[0] = 0xAB
	outputs := []PathFingerprint{takeFP(t, fs, clock, "/out.o")}
	inputs := []PathFingerprint{takeFP(t, fs, clock, "/src.c")}
	require.NoError(t, log.RanCommand(hash, outputs, inputs))
	require.NoError(t, log.Close())

	result, err := Parse(fs, "/log")
	require.NoError(t, err)
	require.NoError(t, result.Warning)
	require.NoError(t, result.ResolveCreatedDirectories(fs))

	require.Len(t, result.Invocations.Entries, 1)
	entry, ok := result.Invocations.Entries[hash]
	require.True(t, ok)
	require.Len(t, entry.OutputFiles, 1)
	require.Len(t, entry.InputFiles, 1)
	require.Equal(t, "/out.o", result.Invocations.Fingerprints[entry.OutputFiles[0]].Path)
	require.Equal(t, "/src.c", result.Invocations.Fingerprints[entry.InputFiles[0]].Path)

	st, err := fs.Lstat("/build")
	require.NoError(t, err)
	require.Equal(t, "/build", result.Invocations.CreatedDirectories[fingerprint.FileIdFromStat(st)])
}

func TestRemovedDirectoryCancelsCreatedDirectory(t *testing.T) {
	fs := fsx.NewMemory()
	require.NoError(t, fs.Mkdir("/tmp-out"))
	clock := clockAt(time.Unix(1, 0))

	log, err := CreateFresh(fs, "/log", clock)
	require.NoError(t, err)
	require.NoError(t, log.CreatedDirectory("/tmp-out"))
	require.NoError(t, log.RemovedDirectory("/tmp-out"))
	require.NoError(t, log.Close())

	result, err := Parse(fs, "/log")
	require.NoError(t, err)
	require.Empty(t, result.CreatedDirectoryPaths)
}

func TestCleanedCommandRemovesEntry(t *testing.T) {
	fs := fsx.NewMemory()
	require.NoError(t, fs.WriteFile("/a", []byte("a")))
	clock := clockAt(time.Unix(1, 0))

	log, err := CreateFresh(fs, "/log", clock)
	require.NoError(t, err)

	var hash Hash
	hash[0] = 1
	require.NoError(t, log.RanCommand(hash, []PathFingerprint{takeFP(t, fs, clock, "/a")}, nil))
	require.NoError(t, log.CleanedCommand(hash))
	require.NoError(t, log.Close())

	result, err := Parse(fs, "/log")
	require.NoError(t, err)
	require.NotContains(t, result.Invocations.Entries, hash)
}

func TestParseMissingLogIsEmptyNotError(t *testing.T) {
	fs := fsx.NewMemory()
	result, err := Parse(fs, "/no-such-log")
	require.NoError(t, err)
	require.Empty(t, result.Invocations.Entries)
	require.NoError(t, result.Warning)
}

func TestParseTruncatesCorruptTailRecord(t *testing.T) {
	fs := fsx.NewMemory()
	require.NoError(t, fs.WriteFile("/a", []byte("a")))
	clock := clockAt(time.Unix(1, 0))

	log, err := CreateFresh(fs, "/log", clock)
	require.NoError(t, err)
	var hash1 Hash
	hash1[0] = 1
	require.NoError(t, log.RanCommand(hash1, []PathFingerprint{takeFP(t, fs, clock, "/a")}, nil))
	require.NoError(t, log.Close())

	goodData, err := fs.ReadFile("/log")
	require.NoError(t, err)

	// Simulate a crash mid-write: append a truncated header.
	corrupt := append(append([]byte(nil), goodData...), 0xFF, 0xFF, 0xFF, 0x7F)
	require.NoError(t, fs.WriteFile("/log", corrupt))

	result, err := Parse(fs, "/log")
	require.NoError(t, err)
	require.Error(t, result.Warning)
	require.Contains(t, result.Invocations.Entries, hash1)

	// The log on disk should now be truncated back to the good prefix.
	truncated, err := fs.ReadFile("/log")
	require.NoError(t, err)
	require.Equal(t, goodData, truncated)
}

func TestRecompactDropsStaleRecordsButKeepsLiveEntries(t *testing.T) {
	fs := fsx.NewMemory()
	require.NoError(t, fs.WriteFile("/a", []byte("a")))
	require.NoError(t, fs.WriteFile("/b", []byte("b")))
	require.NoError(t, fs.Mkdir("/out"))
	clock := clockAt(time.Unix(1, 0))

	log, err := CreateFresh(fs, "/log", clock)
	require.NoError(t, err)
	require.NoError(t, log.CreatedDirectory("/out"))

	var hashA, hashB Hash
	hashA[0], hashB[0] = 1, 2
	require.NoError(t, log.RanCommand(hashA, []PathFingerprint{takeFP(t, fs, clock, "/a")}, nil))
	require.NoError(t, log.RanCommand(hashB, []PathFingerprint{takeFP(t, fs, clock, "/b")}, nil))
	require.NoError(t, log.CleanedCommand(hashB))
	require.NoError(t, log.Close())

	before, err := Parse(fs, "/log")
	require.NoError(t, err)
	require.NoError(t, before.ResolveCreatedDirectories(fs))
	require.Contains(t, before.Invocations.Entries, hashA)
	require.NotContains(t, before.Invocations.Entries, hashB)

	require.NoError(t, Recompact(fs, before.Invocations, "/log", clock))

	after, err := Parse(fs, "/log")
	require.NoError(t, err)
	require.NoError(t, after.Warning)
	require.NoError(t, after.ResolveCreatedDirectories(fs))
	require.True(t, before.Invocations.Equal(after.Invocations))

	firstPass, err := fs.ReadFile("/log")
	require.NoError(t, err)

	// Idempotent: recompacting the already-recompacted log changes nothing
	// observable, and (spec.md §8) produces byte-identical output, since
	// entries and created directories are re-emitted in a stable sort order
	// rather than Go's randomized map iteration order.
	require.NoError(t, Recompact(fs, after.Invocations, "/log", clock))
	again, err := Parse(fs, "/log")
	require.NoError(t, err)
	require.True(t, after.Invocations.Equal(again.Invocations))

	secondPass, err := fs.ReadFile("/log")
	require.NoError(t, err)
	if diff := cmp.Diff(firstPass, secondPass); diff != "" {
		t.Fatalf("recompaction is not byte-identical across runs (-first +second):\n%s", diff)
	}
}
