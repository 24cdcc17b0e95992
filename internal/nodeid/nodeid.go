// Package nodeid defines the 128-bit node identifier used to address
// nodes on the wire and in the registry.
package nodeid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Size is the number of raw bytes a NodeId occupies on the wire.
const Size = 16

// ID is a 128-bit identifier, globally unique per discovered node
// instance. The first three fields are big-endian so the raw bytes
// round-trip textually as a standard UUID.
type ID [Size]byte

// Nil is the zero value, never assigned to a real node.
var Nil = ID{}

// New generates a random node id.
func New() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return Nil, fmt.Errorf("nodeid: generate: %w", err)
	}
	return id, nil
}

// FromBytes copies a raw 16-byte big-endian blob into an ID.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Size {
		return Nil, fmt.Errorf("nodeid: expected %d bytes, got %d", Size, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// String renders the id in standard UUID textual form
// (xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx), matching the way the first
// three big-endian fields round-trip through any UUID parser.
func (id ID) String() string {
	var buf [36]byte
	hex.Encode(buf[0:8], id[0:4])
	buf[8] = '-'
	hex.Encode(buf[9:13], id[4:6])
	buf[13] = '-'
	hex.Encode(buf[14:18], id[6:8])
	buf[18] = '-'
	hex.Encode(buf[19:23], id[8:10])
	buf[23] = '-'
	hex.Encode(buf[24:36], id[10:16])
	return string(buf[:])
}
