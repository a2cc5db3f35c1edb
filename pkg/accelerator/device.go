package accelerator

import (
	"context"
)

// Device of an accelerator that is capable of hashing leaves in
// parallel. Work is submitted to a device through Streams.
// Operations enqueued on a Stream return immediately, yielding an
// Event that can be used to wait for their completion.
//
// Implementations of Device, Buffer and Stream must be safe for
// concurrent use. Events may be waited on from any goroutine, any
// number of times.
type Device interface {
	// Name of the device, for diagnostic purposes.
	Name() string

	// MinimumWorkGroupSize returns the granularity at which the
	// device is capable of running kernels. The number of leaves
	// passed to Stream.LaunchLeafHash() must be a multiple of it.
	MinimumWorkGroupSize() int

	// AllocateBuffer allocates a region of device memory.
	AllocateBuffer(sizeBytes int) (Buffer, error)

	// NewStream creates a new queue of operations. Operations on
	// different streams may execute concurrently.
	NewStream() (Stream, error)

	// Close the device, waiting for outstanding operations to
	// complete.
	Close() error
}

// Buffer is a region of device memory.
type Buffer interface {
	SizeBytes() int
	Release()
}

// Stream of operations that execute on a device. Every operation only
// starts after the events in waitFor have completed. Whether
// operations on the same stream are ordered relative to each other is
// up to the implementation. Callers should therefore express all
// ordering requirements through waitFor.
//
// Errors returned by the methods below indicate the operation could
// not be enqueued. Failures that occur while executing the operation
// are reported through Event.Wait().
type Stream interface {
	// Write copies data from host memory into device memory. The
	// host memory must not be modified until the returned event
	// completes.
	Write(dst Buffer, src []byte, waitFor []Event) (Event, error)

	// Read copies data from device memory into host memory. The
	// host memory must not be accessed until the returned event
	// completes.
	Read(dst []byte, src Buffer, waitFor []Event) (Event, error)

	// LaunchLeafHash launches a kernel that hashes leafCount
	// leaves of leafhash.LeafSizeBytes bytes stored in src, writing
	// the digest of leaf i at offset i*leafhash.HashSizeBytes of
	// dst.
	LaunchLeafHash(dst, src Buffer, leafCount int, waitFor []Event) (Event, error)

	Release()
}

// Event that is signaled when an operation submitted to a Stream
// completes.
type Event interface {
	// Wait blocks until the operation completes, returning the
	// error of the operation, if any. Wait returns early if the
	// context is canceled.
	Wait(ctx context.Context) error
}
