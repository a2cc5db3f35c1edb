package util

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// AcquireSemaphore acquires count units of a weighted semaphore,
// returning a status error if the context is done.
//
// Weighted.Acquire() succeeds without consulting the context when
// units are available, so a loop of acquisitions would otherwise not
// observe cancelation.
func AcquireSemaphore(ctx context.Context, semaphore *semaphore.Weighted, count int) error {
	if err := StatusFromContext(ctx); err != nil {
		return err
	}
	if semaphore.Acquire(ctx, int64(count)) != nil {
		return StatusFromContext(ctx)
	}
	return nil
}
