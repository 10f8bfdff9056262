package tailmanager

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankwing/python-beaver/internal/config"
	"github.com/bankwing/python-beaver/internal/queue"
	"github.com/bankwing/python-beaver/internal/sincedb"
)

func newTestManager(t *testing.T, globs []Glob, listDir string) (*Manager, *sync.Mutex, *[]string) {
	t.Helper()
	sdb, err := sincedb.Open(filepath.Join(t.TempDir(), "sincedb.sqlite"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { sdb.Close() })

	var mu sync.Mutex
	var lines []string
	m := New(nil, sdb, queue.New(16), func(filename string, source *config.FileSource, line []byte) {
		mu.Lock()
		lines = append(lines, string(line))
		mu.Unlock()
	})
	m.Globs = globs
	m.ListDir = listDir
	m.DiscoverInterval = 0
	return m, &mu, &lines
}

func TestScanDiscoversGlobMatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0644))

	m, _, _ := newTestManager(t, []Glob{{Pattern: filepath.Join(dir, "*.log"), Source: &config.FileSource{}}}, "")
	m.scan()

	assert.Equal(t, 1, m.Len())
}

func TestScanDiscoversListDirLogFilesOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.log"), []byte("x\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.log.1"), []byte("x\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x\n"), 0644))

	m, _, _ := newTestManager(t, nil, dir)
	m.scan()

	assert.Equal(t, 1, m.Len())
}

func TestRunEmitsDiscoveredLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\n"), 0644))

	m, mu, lines := newTestManager(t, []Glob{{Pattern: filepath.Join(dir, "*.log"), Source: &config.FileSource{}}}, "")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, *lines, "one")
	assert.Contains(t, *lines, "two")
}

func TestScanThrottledByDiscoverInterval(t *testing.T) {
	dir := t.TempDir()
	m, _, _ := newTestManager(t, []Glob{{Pattern: filepath.Join(dir, "*.log"), Source: &config.FileSource{}}}, "")
	m.DiscoverInterval = time.Hour

	m.scan()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.log"), []byte("x\n"), 0644))
	m.scan()

	assert.Equal(t, 0, m.Len(), "a second scan within DiscoverInterval must not pick up the new file yet")
}
