package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldFlushOnRecordCount(t *testing.T) {
	assert.True(t, ShouldFlush(500, 10, 5, 0))
	assert.False(t, ShouldFlush(499, 10, 5, 0))
}

func TestShouldFlushOnByteThreshold(t *testing.T) {
	assert.True(t, ShouldFlush(3, 900, 200, 1000))
	assert.False(t, ShouldFlush(3, 500, 200, 1000))
}

func TestShouldFlushNeverFlushesEmptyChunk(t *testing.T) {
	assert.False(t, ShouldFlush(0, 0, 5000, 1000))
}

func TestShouldFlushZeroBatchSizeMaxDisablesByteThreshold(t *testing.T) {
	assert.False(t, ShouldFlush(3, 999999, 999999, 0))
}
