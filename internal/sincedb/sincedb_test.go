package sincedb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankwing/python-beaver/internal/fileid"
)

func openTestDB(t *testing.T, writeInterval time.Duration) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sincedb.sqlite")
	db, err := Open(path, writeInterval)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStartPositionMissingRecord(t *testing.T) {
	db := openTestDB(t, time.Minute)
	_, ok, err := db.StartPosition("/var/log/nope.log")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateForcedWriteIsImmediatelyVisible(t *testing.T) {
	db := openTestDB(t, time.Hour)
	id := fileid.Identity{Device: 1, Inode: 42}

	require.NoError(t, db.Update("/var/log/access.log", id, 1024, true))

	rec, ok, err := db.StartPosition("/var/log/access.log")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, rec.Identity)
	assert.Equal(t, int64(1024), rec.Offset)
}

func TestUpdateThrottlesUnforcedWrites(t *testing.T) {
	db := openTestDB(t, time.Hour)
	id := fileid.Identity{Device: 1, Inode: 7}

	require.NoError(t, db.Update("/var/log/throttled.log", id, 10, true))
	require.NoError(t, db.Update("/var/log/throttled.log", id, 999, false))

	rec, ok, err := db.StartPosition("/var/log/throttled.log")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10), rec.Offset, "unforced update within the write interval must not persist yet")
}

func TestCloseFlushesPendingWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sincedb.sqlite")
	db, err := Open(path, time.Hour)
	require.NoError(t, err)
	id := fileid.Identity{Device: 2, Inode: 99}
	require.NoError(t, db.Update("/var/log/buffered.log", id, 55, false))
	require.NoError(t, db.Close())

	db2, err := Open(path, time.Hour)
	require.NoError(t, err)
	defer db2.Close()
	rec, ok, err := db2.StartPosition("/var/log/buffered.log")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(55), rec.Offset)
}

func TestRemoveDeletesRecord(t *testing.T) {
	db := openTestDB(t, time.Hour)
	id := fileid.Identity{Device: 3, Inode: 5}
	require.NoError(t, db.Update("/var/log/gone.log", id, 1, true))
	require.NoError(t, db.Remove("/var/log/gone.log"))

	_, ok, err := db.StartPosition("/var/log/gone.log")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdentityMismatchIsCallersResponsibility(t *testing.T) {
	db := openTestDB(t, time.Hour)
	original := fileid.Identity{Device: 1, Inode: 1}
	require.NoError(t, db.Update("/var/log/rotated.log", original, 4096, true))

	rec, ok, err := db.StartPosition("/var/log/rotated.log")
	require.NoError(t, err)
	require.True(t, ok)

	current := fileid.Identity{Device: 1, Inode: 2}
	assert.NotEqual(t, current, rec.Identity, "a rotated file must present a different identity than the stored one")
}
