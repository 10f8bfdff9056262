package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFlushesOnMaxLines(t *testing.T) {
	b := New("/var/log/a.log", nil, 2, 0, 0)

	_, flushed := b.Add("one")
	assert.False(t, flushed)

	batch, flushed := b.Add("two")
	require.True(t, flushed)
	assert.Equal(t, []string{"one", "two"}, batch.Lines)
	assert.True(t, b.Empty())
}

func TestAddFlushesOnMaxBytes(t *testing.T) {
	b := New("/var/log/a.log", nil, 0, 4, 0)

	_, flushed := b.Add("ab")
	assert.False(t, flushed)
	batch, flushed := b.Add("cd")
	require.True(t, flushed)
	assert.Equal(t, []string{"ab", "cd"}, batch.Lines)
}

func TestShouldFlushIdleHonorsMaxSecs(t *testing.T) {
	b := New("/var/log/a.log", nil, 0, 0, 10*time.Millisecond)
	start := time.Now()
	b.now = func() time.Time { return start }

	b.Add("one")
	assert.False(t, b.ShouldFlushIdle())

	b.now = func() time.Time { return start.Add(20 * time.Millisecond) }
	assert.True(t, b.ShouldFlushIdle())
}

func TestFlushStampsUTCTimestamp(t *testing.T) {
	b := New("/var/log/a.log", map[string]string{"service": "nginx"}, 0, 0, 0)
	b.Add("hello")
	batch := b.Flush()
	assert.Equal(t, "nginx", batch.Fields["service"])
	_, err := time.Parse("2006-01-02T15:04:05.000000Z", batch.Timestamp)
	assert.NoError(t, err)
}
