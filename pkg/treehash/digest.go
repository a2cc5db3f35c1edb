package treehash

import (
	"encoding/hex"
)

// Digest of a stream, as computed by a StreamHasher.
type Digest struct {
	// Hash is the root digest of the stream.
	Hash [32]byte

	// SizeBytes is the size of the stream.
	SizeBytes int64

	// Leaves is the number of leaf digests that were folded into
	// the root digest. This includes the digests of partial leaves.
	Leaves int64
}

// String returns the root digest in lowercase hexadecimal form.
func (d Digest) String() string {
	return hex.EncodeToString(d.Hash[:])
}
