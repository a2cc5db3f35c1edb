package selftest

import (
	"context"

	"github.com/buildbarn/bb-treehash/pkg/program"
)

// Measurement performs a throughput measurement, such as
// MeasureAcceleratorThroughput() with all arguments but the context
// bound.
type Measurement func(ctx context.Context) (ThroughputResult, error)

// Run performs a correctness check and a throughput measurement
// concurrently. If the check fails, the measurement is canceled and
// the check's error is returned.
func Run(ctx context.Context, check func() error, measure Measurement) (ThroughputResult, error) {
	var result ThroughputResult
	err := program.RunLocal(ctx, func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
		siblingsGroup.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
			return check()
		})
		var err error
		result, err = measure(ctx)
		return err
	})
	if err != nil {
		return ThroughputResult{}, err
	}
	return result, nil
}
