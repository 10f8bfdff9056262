package tail

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankwing/python-beaver/internal/config"
	"github.com/bankwing/python-beaver/internal/sincedb"
)

func openTestSincedb(t *testing.T) *sincedb.DB {
	t.Helper()
	db, err := sincedb.Open(filepath.Join(t.TempDir(), "sincedb.sqlite"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestReadLinesEmitsCompleteLinesOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.log")
	writeFile(t, path, "one\ntwo\nthree")

	tl, err := Open(path, &config.FileSource{}, openTestSincedb(t), false)
	require.NoError(t, err)
	defer tl.Close(false)

	var got []string
	require.NoError(t, tl.ReadLines(func(line []byte) { got = append(got, string(line)) }))
	assert.Equal(t, []string{"one", "two"}, got)
	assert.Equal(t, int64(len("one\ntwo\nthree")), tl.Offset())
}

func TestReadLinesResumesPartialLineAcrossCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.log")
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = f.WriteString("one\ntw")
	require.NoError(t, err)

	tl, err := Open(path, &config.FileSource{}, openTestSincedb(t), false)
	require.NoError(t, err)
	defer tl.Close(false)

	var got []string
	require.NoError(t, tl.ReadLines(func(line []byte) { got = append(got, string(line)) }))
	assert.Equal(t, []string{"one"}, got)

	_, err = f.WriteString("o\nthree\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, tl.ReadLines(func(line []byte) { got = append(got, string(line)) }))
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestOpenResumesFromSincedbWhenIdentityMatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.log")
	writeFile(t, path, "one\ntwo\nthree\n")

	sdb := openTestSincedb(t)
	tl, err := Open(path, &config.FileSource{}, sdb, false)
	require.NoError(t, err)
	var got []string
	require.NoError(t, tl.ReadLines(func(line []byte) { got = append(got, string(line)) }))
	require.NoError(t, tl.Close(false))

	tl2, err := Open(path, &config.FileSource{}, sdb, false)
	require.NoError(t, err)
	defer tl2.Close(false)
	var got2 []string
	require.NoError(t, tl2.ReadLines(func(line []byte) { got2 = append(got2, string(line)) }))
	assert.Empty(t, got2, "reopening the same file/identity must resume at the persisted offset")
}

func TestCheckDetectsRotationByIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.log")
	writeFile(t, path, "one\n")

	tl, err := Open(path, &config.FileSource{}, openTestSincedb(t), false)
	require.NoError(t, err)
	defer tl.Close(true)

	require.NoError(t, os.Remove(path))
	writeFile(t, path, "new-file-one\n")

	assert.ErrorIs(t, tl.Check(), ErrRotated)
}

func TestCheckResetsOffsetOnTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.log")
	writeFile(t, path, "0123456789\n")

	tl, err := Open(path, &config.FileSource{}, openTestSincedb(t), false)
	require.NoError(t, err)
	defer tl.Close(true)

	require.NoError(t, tl.ReadLines(func([]byte) {}))
	assert.Equal(t, int64(11), tl.Offset())

	writeFile(t, path, "ab\n")
	require.NoError(t, tl.Check())
	assert.Equal(t, int64(0), tl.Offset())
}
