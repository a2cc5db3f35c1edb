package leafhash

import (
	"runtime"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// leavesPerTask is the number of consecutive whole leaves that are
// hashed by a single goroutine. Leaves are small, so hashing them one
// goroutine each would be dominated by scheduling overhead.
const leavesPerTask = 64

// SplitLeaves returns the number of whole leaves contained in a block
// of a given size, and the size of the trailing partial leaf.
func SplitLeaves(sizeBytes int) (wholeLeaves, remainderBytes int) {
	return sizeBytes / LeafSizeBytes, sizeBytes % LeafSizeBytes
}

// BatchSizeBytes returns the size of the digest batch that is produced
// for a block of a given size: one digest per whole leaf, followed by
// one digest for the trailing partial leaf, if any.
func BatchSizeBytes(sizeBytes int) int {
	wholeLeaves, remainderBytes := SplitLeaves(sizeBytes)
	if remainderBytes > 0 {
		wholeLeaves++
	}
	return wholeLeaves * HashSizeBytes
}

// CPUEngine hashes the leaves of host resident blocks, spreading the
// whole leaves of a block across multiple goroutines. It holds no
// mutable state, meaning it may be shared.
type CPUEngine struct {
	function    Function
	concurrency int
}

// NewCPUEngine creates a CPUEngine that uses up to concurrency
// goroutines per block. A concurrency of zero or less selects
// GOMAXPROCS.
func NewCPUEngine(function Function, concurrency int) *CPUEngine {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &CPUEngine{
		function:    function,
		concurrency: concurrency,
	}
}

// Function returns the leaf hash function used by the engine.
func (e *CPUEngine) Function() Function {
	return e.function
}

// HashLeaves hashes all leaves contained in src and writes the
// resulting digest batch into dst. The digest of leaf i is stored at
// offset i*HashSizeBytes, regardless of the order in which leaves are
// completed. The digest of the trailing partial leaf, if any, is stored
// directly after the ones of the whole leaves. The size of the digest
// batch is returned.
func (e *CPUEngine) HashLeaves(dst, src []byte) (int, error) {
	batchSizeBytes := BatchSizeBytes(len(src))
	if len(dst) < batchSizeBytes {
		return 0, status.Errorf(codes.InvalidArgument, "Digest batch buffer is %d bytes in size, while %d bytes are needed to hash %d bytes of data", len(dst), batchSizeBytes, len(src))
	}

	wholeLeaves, remainderBytes := SplitLeaves(len(src))
	switch {
	case wholeLeaves == 1:
		e.hashLeafRange(dst, src, 0, 1)
	case wholeLeaves > 1:
		var group errgroup.Group
		group.SetLimit(e.concurrency)
		for first := 0; first < wholeLeaves; first += leavesPerTask {
			last := min(first+leavesPerTask, wholeLeaves)
			group.Go(func() error {
				e.hashLeafRange(dst, src, first, last)
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return 0, err
		}
	}

	if remainderBytes > 0 {
		sum := e.function.Sum(src[wholeLeaves*LeafSizeBytes:])
		copy(dst[wholeLeaves*HashSizeBytes:], sum[:])
	}
	return batchSizeBytes, nil
}

// hashLeafRange hashes whole leaves [first, last) of src.
func (e *CPUEngine) hashLeafRange(dst, src []byte, first, last int) {
	h := e.function.NewWithExpectedSize(LeafSizeBytes)
	var sum [HashSizeBytes]byte
	for leaf := first; leaf < last; leaf++ {
		h.Reset()
		h.Write(src[leaf*LeafSizeBytes : (leaf+1)*LeafSizeBytes])
		copy(dst[leaf*HashSizeBytes:], h.Sum(sum[:0]))
	}
}
