package treehash

import (
	"context"
	"io"

	"github.com/buildbarn/bb-treehash/pkg/accelerator"
	"github.com/buildbarn/bb-treehash/pkg/leafhash"
	"github.com/buildbarn/bb-treehash/pkg/util"
	"go.uber.org/zap"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type acceleratedStreamHasher struct {
	pipeline *accelerator.Pipeline
	function leafhash.Function
	logger   *zap.Logger
	metrics  streamMetrics
}

// NewAcceleratedStreamHasher creates a StreamHasher that hashes leaves
// using an accelerator pipeline. Blocks are read into slots of the
// pipeline while previously read blocks are being hashed. The function
// must be the one used by the pipeline's device.
//
// As the pipeline is not safe for concurrent use, neither is the
// StreamHasher returned by this function.
func NewAcceleratedStreamHasher(pipeline *accelerator.Pipeline, function leafhash.Function, logger *zap.Logger) StreamHasher {
	return &acceleratedStreamHasher{
		pipeline: pipeline,
		function: function,
		logger:   logger,
		metrics:  newStreamMetrics("Accelerator"),
	}
}

func (sh *acceleratedStreamHasher) HashStream(ctx context.Context, r io.Reader) (Digest, error) {
	if pending := sh.pipeline.Pending(); pending != 0 {
		// Batches left behind by another stream would otherwise
		// be folded into this stream's root digest.
		err := status.Errorf(codes.FailedPrecondition, "Pipeline still has %d busy slots from an earlier stream", pending)
		sh.metrics.streamCompleted(err)
		return Digest{}, err
	}

	digest, err := sh.hashStream(ctx, r)
	if err != nil {
		// Don't leave any work in flight that references the
		// pipeline's slots, even if ctx is canceled. Nothing
		// computed so far is returned.
		if flushErr := sh.pipeline.Flush(context.WithoutCancel(ctx)); flushErr != nil {
			sh.logger.Warn("Failed to flush accelerator pipeline", zap.Error(flushErr))
		}
		digest = Digest{}
	}
	sh.metrics.streamCompleted(err)
	return digest, err
}

func (sh *acceleratedStreamHasher) hashStream(ctx context.Context, r io.Reader) (Digest, error) {
	p := sh.pipeline
	rootHasher := NewRootHasher(sh.function)
	var sizeBytes int64
	endOfStream := false
	for {
		if err := util.StatusFromContext(ctx); err != nil {
			return Digest{}, err
		}

		// Keep the pipeline filled with blocks until it reports
		// that all slots are busy.
		if !endOfStream {
			region, ok, err := p.AcquireInputRegion(ctx)
			if err != nil {
				return Digest{}, err
			}
			if ok {
				n, err := readBlock(r, region)
				if err != nil {
					return Digest{}, err
				}
				if err := p.Submit(n); err != nil {
					return Digest{}, err
				}
				if n == 0 {
					endOfStream = true
				} else {
					sizeBytes += int64(n)
					sh.metrics.blockHashed(n)
				}
				continue
			}
		}

		// Drain the oldest block.
		batch, ok, err := p.AcquireOutput(ctx)
		if err != nil {
			return Digest{}, err
		}
		if !ok {
			if endOfStream {
				break
			}
			continue
		}
		if err := rootHasher.Update(batch); err != nil {
			return Digest{}, err
		}
		if err := p.ReleaseOutput(); err != nil {
			return Digest{}, err
		}
	}

	hash, err := rootHasher.Sum()
	if err != nil {
		return Digest{}, err
	}
	sh.logger.Debug(
		"Hashed stream",
		zap.Int64("size_bytes", sizeBytes),
		zap.Int64("leaves", rootHasher.Leaves()))
	return Digest{
		Hash:      hash,
		SizeBytes: sizeBytes,
		Leaves:    rootHasher.Leaves(),
	}, nil
}
