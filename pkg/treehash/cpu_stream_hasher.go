package treehash

import (
	"context"
	"io"

	"github.com/buildbarn/bb-treehash/pkg/leafhash"
	"github.com/buildbarn/bb-treehash/pkg/util"
)

type cpuStreamHasher struct {
	cpuEngine      *leafhash.CPUEngine
	blockSizeBytes int
	metrics        streamMetrics
}

// NewCPUStreamHasher creates a StreamHasher that hashes leaves on the
// host, one block at a time. It is safe for concurrent use, as every
// call allocates its own buffers.
func NewCPUStreamHasher(cpuEngine *leafhash.CPUEngine, blockSizeBytes int) (StreamHasher, error) {
	if err := checkBlockSize(blockSizeBytes); err != nil {
		return nil, err
	}
	return &cpuStreamHasher{
		cpuEngine:      cpuEngine,
		blockSizeBytes: blockSizeBytes,
		metrics:        newStreamMetrics("CPU"),
	}, nil
}

func (sh *cpuStreamHasher) HashStream(ctx context.Context, r io.Reader) (Digest, error) {
	digest, err := sh.hashStream(ctx, r)
	sh.metrics.streamCompleted(err)
	return digest, err
}

func (sh *cpuStreamHasher) hashStream(ctx context.Context, r io.Reader) (Digest, error) {
	rootHasher := NewRootHasher(sh.cpuEngine.Function())
	block := make([]byte, sh.blockSizeBytes)
	batch := make([]byte, leafhash.BatchSizeBytes(sh.blockSizeBytes))
	var sizeBytes int64
	for {
		if err := util.StatusFromContext(ctx); err != nil {
			return Digest{}, err
		}
		n, err := readBlock(r, block)
		if err != nil {
			return Digest{}, err
		}
		if n == 0 {
			break
		}
		batchSizeBytes, err := sh.cpuEngine.HashLeaves(batch, block[:n])
		if err != nil {
			return Digest{}, err
		}
		if err := rootHasher.Update(batch[:batchSizeBytes]); err != nil {
			return Digest{}, err
		}
		sizeBytes += int64(n)
		sh.metrics.blockHashed(n)
	}

	hash, err := rootHasher.Sum()
	if err != nil {
		return Digest{}, err
	}
	return Digest{
		Hash:      hash,
		SizeBytes: sizeBytes,
		Leaves:    rootHasher.Leaves(),
	}, nil
}
