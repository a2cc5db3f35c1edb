package selftest

import (
	"context"
	"time"

	"github.com/buildbarn/bb-treehash/pkg/accelerator"
	"github.com/buildbarn/bb-treehash/pkg/clock"
	"github.com/buildbarn/bb-treehash/pkg/leafhash"
	"github.com/buildbarn/bb-treehash/pkg/util"
)

// ThroughputResult is the outcome of a throughput measurement.
type ThroughputResult struct {
	SizeBytes int64
	Duration  time.Duration
}

// MebibytesPerSecond returns the measured throughput.
func (r ThroughputResult) MebibytesPerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.SizeBytes) / (1 << 20) / r.Duration.Seconds()
}

// MeasureAcceleratorThroughput keeps an accelerator pipeline filled
// with blocks of zero bytes until the provided duration has elapsed.
// Blocks still in flight at that point are drained before the total
// duration is determined.
func MeasureAcceleratorThroughput(ctx context.Context, clock clock.Clock, pipeline *accelerator.Pipeline, duration time.Duration) (ThroughputResult, error) {
	var sizeBytes int64
	timeStart := clock.Now()
	for clock.Now().Sub(timeStart) < duration {
		if err := util.StatusFromContext(ctx); err != nil {
			return ThroughputResult{}, err
		}

		if _, ok, err := pipeline.AcquireOutput(ctx); err != nil {
			return ThroughputResult{}, err
		} else if ok {
			if err := pipeline.ReleaseOutput(); err != nil {
				return ThroughputResult{}, err
			}
		}

		for {
			region, ok, err := pipeline.AcquireInputRegion(ctx)
			if err != nil {
				return ThroughputResult{}, err
			}
			if !ok {
				break
			}
			clear(region)
			if err := pipeline.Submit(len(region)); err != nil {
				return ThroughputResult{}, err
			}
			sizeBytes += int64(len(region))
		}
	}

	for {
		_, ok, err := pipeline.AcquireOutput(ctx)
		if err != nil {
			return ThroughputResult{}, err
		}
		if !ok {
			break
		}
		if err := pipeline.ReleaseOutput(); err != nil {
			return ThroughputResult{}, err
		}
	}
	return ThroughputResult{
		SizeBytes: sizeBytes,
		Duration:  clock.Now().Sub(timeStart),
	}, nil
}

// MeasureCPUThroughput repeatedly hashes the leaves of a block of zero
// bytes on the host until the provided duration has elapsed.
func MeasureCPUThroughput(ctx context.Context, clock clock.Clock, cpuEngine *leafhash.CPUEngine, blockSizeBytes int, duration time.Duration) (ThroughputResult, error) {
	block := make([]byte, blockSizeBytes)
	batch := make([]byte, leafhash.BatchSizeBytes(blockSizeBytes))
	var sizeBytes int64
	timeStart := clock.Now()
	for clock.Now().Sub(timeStart) < duration {
		if err := util.StatusFromContext(ctx); err != nil {
			return ThroughputResult{}, err
		}
		if _, err := cpuEngine.HashLeaves(batch, block); err != nil {
			return ThroughputResult{}, err
		}
		sizeBytes += int64(blockSizeBytes)
	}
	return ThroughputResult{
		SizeBytes: sizeBytes,
		Duration:  clock.Now().Sub(timeStart),
	}, nil
}
