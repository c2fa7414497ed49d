package fingerprint

import (
	"testing"
	"time"

	"github.com/shurikenbuild/shuriken/internal/fsx"
	"github.com/stretchr/testify/require"
)

func clockAt(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestTakeNonexistentFile(t *testing.T) {
	fs := fsx.NewMemory()
	now := time.Unix(2000, 0)

	fp, err := Take(fs, clockAt(now), "/missing")
	require.NoError(t, err)
	require.Equal(t, Hash{}, fp.Hash)
	require.Equal(t, int64(2000), fp.Timestamp)
}

func TestMatchesStableClean(t *testing.T) {
	fs := fsx.NewMemory()
	fs.SetTime(time.Unix(1000, 0))
	require.NoError(t, fs.WriteFile("/f", []byte("hello")))

	// Take the fingerprint well after the file's mtime so it is not
	// racily clean.
	fp, err := Take(fs, clockAt(time.Unix(1003, 0)), "/f")
	require.NoError(t, err)

	res, err := Matches(fs, "/f", fp)
	require.NoError(t, err)
	require.True(t, res.Clean)
	require.False(t, res.ShouldUpdate)
}

func TestMatchesDirtyOnContentChange(t *testing.T) {
	fs := fsx.NewMemory()
	fs.SetTime(time.Unix(1000, 0))
	require.NoError(t, fs.WriteFile("/f", []byte("hello")))
	fp, err := Take(fs, clockAt(time.Unix(1003, 0)), "/f")
	require.NoError(t, err)

	fs.SetTime(time.Unix(2000, 0))
	require.NoError(t, fs.WriteFile("/f", []byte("world!")))

	res, err := Matches(fs, "/f", fp)
	require.NoError(t, err)
	require.False(t, res.Clean)
}

func TestMatchesRacilyCleanDetectsSameSecondModification(t *testing.T) {
	fs := fsx.NewMemory()
	fs.SetTime(time.Unix(1000, 0))
	require.NoError(t, fs.WriteFile("/f", []byte("01234")))

	// Fingerprint taken in the same second as mtime: racily clean.
	fp, err := Take(fs, clockAt(time.Unix(1000, 0)), "/f")
	require.NoError(t, err)

	// Modify content but keep size and mtime identical (same second).
	fs.SetTime(time.Unix(1000, 0))
	require.NoError(t, fs.WriteFile("/f", []byte("98765")))

	res, err := Matches(fs, "/f", fp)
	require.NoError(t, err)
	require.False(t, res.Clean, "racily-clean rehash must detect the content change")
}

func TestMatchesNonexistentThenCreated(t *testing.T) {
	fs := fsx.NewMemory()
	fp, err := Take(fs, clockAt(time.Unix(1, 0)), "/new")
	require.NoError(t, err)

	require.NoError(t, fs.WriteFile("/new", []byte("x")))
	res, err := Matches(fs, "/new", fp)
	require.NoError(t, err)
	require.False(t, res.Clean)
}
