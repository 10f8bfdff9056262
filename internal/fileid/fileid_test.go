//go:build !windows

package fileid

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityString(t *testing.T) {
	id := Identity{Device: 0x10, Inode: 0x2a}
	assert.Equal(t, "10:2a", id.String())
}

func TestIdentityZero(t *testing.T) {
	assert.True(t, Identity{}.Zero())
	assert.False(t, Identity{Inode: 1}.Zero())
}

func TestOfDistinguishesFiles(t *testing.T) {
	dir := t.TempDir()
	f1, err := os.Create(dir + "/a")
	assert.Nil(t, err)
	defer f1.Close()
	f2, err := os.Create(dir + "/b")
	assert.Nil(t, err)
	defer f2.Close()

	fi1, err := f1.Stat()
	assert.Nil(t, err)
	fi2, err := f2.Stat()
	assert.Nil(t, err)

	id1 := Of(fi1)
	id2 := Of(fi2)
	assert.False(t, id1.Zero())
	assert.NotEqual(t, id1, id2)
}
