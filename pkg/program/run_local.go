package program

import (
	"context"
	"sync"
)

// firstErrorLogger retains the first error reported by any routine and
// cancels all routines when it arrives. Later errors, which tend to be
// cancelation errors caused by the first one, are dropped.
type firstErrorLogger struct {
	once   sync.Once
	err    error
	cancel context.CancelFunc
}

func (el *firstErrorLogger) Log(err error) {
	el.once.Do(func() {
		el.err = err
		el.cancel()
	})
}

// RunLocal runs a routine and all routines it spawns until completion,
// returning the first error reported by any of them. Unlike RunMain(),
// it does not terminate the process, making it suitable for running a
// group of related tasks inside a program, such as the self-test.
//
// Compared to errgroup.Group, there is no separate Wait() to forget,
// and routines are placed in the same hierarchy of siblings and
// dependencies as under RunMain().
func RunLocal(ctx context.Context, routine Routine) error {
	innerCtx, cancel := context.WithCancel(ctx)
	errorLogger := &firstErrorLogger{cancel: cancel}
	run(innerCtx, errorLogger, routine)
	errorLogger.once.Do(cancel)
	return errorLogger.err
}
