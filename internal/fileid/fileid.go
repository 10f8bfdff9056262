// Package fileid derives a stable identity for a file so tailers can detect
// rotation and truncation across restarts.
package fileid

import "fmt"

// Identity uniquely identifies a file on a host for as long as it lives.
// Two distinct live files never collide on Identity.
type Identity struct {
	Device uint64
	Inode  uint64
}

// String renders the identity in the canonical form used as the sincedb key
// and as the map key TailManager tracks live tails by.
func (id Identity) String() string {
	return fmt.Sprintf("%x:%x", id.Device, id.Inode)
}

// Zero reports whether the identity carries no information, which happens
// on platforms or filesystems that cannot surface device/inode values.
func (id Identity) Zero() bool {
	return id == Identity{}
}
