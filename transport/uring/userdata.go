// File: transport/uring/userdata.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Packing of routing metadata into the 64-bit user data word that the
// completion substrate hands back with every completion.

package uring

import (
	"fmt"
	"math"
)

// UserData is the opaque 64-bit correlation token.
//
// Layout, low to high:
//
//	bits  0..7   operation kind
//	bits  8..15  shard id
//	bits 16..31  connection generation
//	bits 32..63  file descriptor, 0xFFFFFFFF when absent
type UserData uint64

// NoFD marks a token that carries no file descriptor.
const NoFD int32 = -1

const fdSentinel = math.MaxUint32

// Pack lays out the token fields. Any negative fd is encoded as the sentinel.
func Pack(fd int32, gen uint16, shard uint8, op Op) UserData {
	fdBits := uint64(fdSentinel)
	if fd >= 0 {
		fdBits = uint64(uint32(fd))
	}
	return UserData(uint64(op) |
		uint64(shard)<<8 |
		uint64(gen)<<16 |
		fdBits<<32)
}

// Op decodes the operation kind, OpUnknown for bytes outside the known set.
func (u UserData) Op() Op {
	return ParseOp(uint8(u))
}

// Shard returns the shard that issued the operation.
func (u UserData) Shard() uint8 {
	return uint8(u >> 8)
}

// Gen returns the connection generation at submission time.
func (u UserData) Gen() uint16 {
	return uint16(u >> 16)
}

// FD returns the descriptor and true, or NoFD and false for the sentinel.
func (u UserData) FD() (int32, bool) {
	raw := uint32(u >> 32)
	if raw == fdSentinel {
		return NoFD, false
	}
	return int32(raw), true
}

func (u UserData) String() string {
	fd, ok := u.FD()
	if !ok {
		return fmt.Sprintf("%s shard=%d gen=%d fd=none", u.Op(), u.Shard(), u.Gen())
	}
	return fmt.Sprintf("%s shard=%d gen=%d fd=%d", u.Op(), u.Shard(), u.Gen(), fd)
}
