package transport

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankwing/python-beaver/internal/config"
	"github.com/bankwing/python-beaver/internal/queue"
)

func TestFileSendAppendsOneLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	ft, err := NewFile(path, &config.FileSource{}, 1, "host1", nil)
	require.NoError(t, err)
	defer ft.Close()

	result, err := ft.Send(context.Background(), queue.Batch{
		Lines:     []string{"one", "two"},
		Timestamp: "2026-07-29T00:00:00.000000Z",
	})
	require.NoError(t, err)
	assert.Equal(t, OK, result)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(content), "\n"))
}
