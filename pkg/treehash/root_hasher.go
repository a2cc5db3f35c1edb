package treehash

import (
	"hash"

	"github.com/buildbarn/bb-treehash/pkg/leafhash"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RootHasher computes the root digest of a stream by hashing the
// concatenation of all of its leaf digests. Digest batches must be
// provided in the order in which their blocks occur in the stream.
//
// RootHasher is not safe for concurrent use.
type RootHasher struct {
	hasher   hash.Hash
	leaves   int64
	finished bool
}

// NewRootHasher creates a RootHasher that combines leaf digests using
// the provided function.
func NewRootHasher(function leafhash.Function) *RootHasher {
	return &RootHasher{
		hasher: function.New(),
	}
}

// Update folds a batch of leaf digests into the root digest.
func (h *RootHasher) Update(batch []byte) error {
	if h.finished {
		return status.Error(codes.FailedPrecondition, "Root digest has already been computed")
	}
	if len(batch)%leafhash.HashSizeBytes != 0 {
		return status.Errorf(codes.InvalidArgument, "Digest batch is %d bytes in size, which is not a multiple of %d bytes", len(batch), leafhash.HashSizeBytes)
	}
	h.hasher.Write(batch)
	h.leaves += int64(len(batch) / leafhash.HashSizeBytes)
	return nil
}

// Leaves returns the number of leaf digests folded into the root
// digest so far.
func (h *RootHasher) Leaves() int64 {
	return h.leaves
}

// Sum returns the root digest. It may only be called once, after
// which the RootHasher can no longer be used.
func (h *RootHasher) Sum() ([leafhash.HashSizeBytes]byte, error) {
	var sum [leafhash.HashSizeBytes]byte
	if h.finished {
		return sum, status.Error(codes.FailedPrecondition, "Root digest has already been computed")
	}
	h.finished = true
	h.hasher.Sum(sum[:0])
	return sum, nil
}
