package accelerator

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/buildbarn/bb-treehash/pkg/leafhash"
	"github.com/buildbarn/bb-treehash/pkg/util"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SoftwareDeviceConfiguration contains the parameters of a device
// created through NewSoftwareDevice().
type SoftwareDeviceConfiguration struct {
	// Function that is used by the leaf hash kernel.
	Function leafhash.Function

	// MinimumWorkGroupSize is the number of leaves that are hashed
	// by a single work group.
	MinimumWorkGroupSize int

	// ComputeUnits is the maximum number of work groups that run
	// concurrently. Zero selects GOMAXPROCS.
	ComputeUnits int

	// MemoryBytes limits the amount of device memory that may be
	// allocated. Zero means unlimited.
	MemoryBytes int64

	// OutOfOrder permits operations enqueued on the same stream to
	// run concurrently, as long as their explicit dependencies are
	// satisfied.
	OutOfOrder bool
}

type softwareDevice struct {
	configuration SoftwareDeviceConfiguration
	computeUnits  *semaphore.Weighted
	operations    sync.WaitGroup

	lock           sync.Mutex
	allocatedBytes int64
	closed         bool
}

// NewSoftwareDevice creates a Device that executes all operations on
// the host, using goroutines. Buffers are backed by private host
// memory, so that transfers behave like they would on a discrete
// device. Its kernel computes the same digests as leafhash.CPUEngine.
func NewSoftwareDevice(configuration SoftwareDeviceConfiguration) (Device, error) {
	if configuration.Function.Name() == "" {
		return nil, status.Error(codes.InvalidArgument, "No leaf hash function provided")
	}
	if configuration.MinimumWorkGroupSize <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Minimum work group size must be positive, not %d", configuration.MinimumWorkGroupSize)
	}
	if configuration.ComputeUnits <= 0 {
		configuration.ComputeUnits = runtime.GOMAXPROCS(0)
	}
	if configuration.MemoryBytes < 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Memory size must be non-negative, not %d", configuration.MemoryBytes)
	}
	return &softwareDevice{
		configuration: configuration,
		computeUnits:  semaphore.NewWeighted(int64(configuration.ComputeUnits)),
	}, nil
}

func (d *softwareDevice) Name() string {
	return fmt.Sprintf("software/%s/%d", d.configuration.Function.Name(), d.configuration.ComputeUnits)
}

func (d *softwareDevice) MinimumWorkGroupSize() int {
	return d.configuration.MinimumWorkGroupSize
}

func (d *softwareDevice) AllocateBuffer(sizeBytes int) (Buffer, error) {
	if sizeBytes <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Buffer size must be positive, not %d", sizeBytes)
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return nil, status.Error(codes.FailedPrecondition, "Device is closed")
	}
	if limit := d.configuration.MemoryBytes; limit > 0 && d.allocatedBytes+int64(sizeBytes) > limit {
		return nil, status.Errorf(codes.ResourceExhausted, "Cannot allocate %d bytes of device memory, as %d of %d bytes are already in use", sizeBytes, d.allocatedBytes, limit)
	}
	d.allocatedBytes += int64(sizeBytes)
	return &softwareBuffer{
		device: d,
		data:   make([]byte, sizeBytes),
	}, nil
}

func (d *softwareDevice) NewStream() (Stream, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return nil, status.Error(codes.FailedPrecondition, "Device is closed")
	}
	return &softwareStream{device: d}, nil
}

func (d *softwareDevice) Close() error {
	d.lock.Lock()
	d.closed = true
	d.lock.Unlock()

	d.operations.Wait()
	return nil
}

// getBuffer converts a Buffer to a softwareBuffer, checking that it
// belongs to this device and is still allocated.
func (d *softwareDevice) getBuffer(b Buffer) (*softwareBuffer, error) {
	sb, ok := b.(*softwareBuffer)
	if !ok || sb.device != d {
		return nil, status.Error(codes.InvalidArgument, "Buffer was not allocated by this device")
	}
	if sb.released.Load() {
		return nil, status.Error(codes.FailedPrecondition, "Buffer has already been released")
	}
	return sb, nil
}

// startOperation registers an operation, so that Close() waits for it.
func (d *softwareDevice) startOperation() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return status.Error(codes.FailedPrecondition, "Device is closed")
	}
	d.operations.Add(1)
	return nil
}

// runLeafHashKernel hashes leafCount leaves, processing one work group
// per goroutine. At most ComputeUnits work groups run at once.
func (d *softwareDevice) runLeafHashKernel(dst, src []byte, leafCount int) error {
	workGroupSize := d.configuration.MinimumWorkGroupSize
	var group errgroup.Group
	for first := 0; first < leafCount; first += workGroupSize {
		if err := util.AcquireSemaphore(context.Background(), d.computeUnits, 1); err != nil {
			if groupErr := group.Wait(); groupErr != nil {
				return groupErr
			}
			return err
		}
		group.Go(func() error {
			defer d.computeUnits.Release(1)
			h := d.configuration.Function.NewWithExpectedSize(leafhash.LeafSizeBytes)
			var sum [leafhash.HashSizeBytes]byte
			for leaf := first; leaf < first+workGroupSize; leaf++ {
				h.Reset()
				h.Write(src[leaf*leafhash.LeafSizeBytes : (leaf+1)*leafhash.LeafSizeBytes])
				copy(dst[leaf*leafhash.HashSizeBytes:], h.Sum(sum[:0]))
			}
			return nil
		})
	}
	return group.Wait()
}

type softwareBuffer struct {
	device   *softwareDevice
	data     []byte
	released atomic.Bool
}

func (b *softwareBuffer) SizeBytes() int {
	return len(b.data)
}

func (b *softwareBuffer) Release() {
	if b.released.CompareAndSwap(false, true) {
		b.device.lock.Lock()
		b.device.allocatedBytes -= int64(len(b.data))
		b.device.lock.Unlock()
	}
}

type softwareStream struct {
	device *softwareDevice

	lock      sync.Mutex
	lastEvent Event
	released  bool
}

// enqueue schedules an operation to run once all of its dependencies
// have completed. If the device runs streams in order, the previously
// enqueued operation is an implicit dependency.
func (s *softwareStream) enqueue(waitFor []Event, operation func() error) (Event, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.released {
		return nil, status.Error(codes.FailedPrecondition, "Stream has already been released")
	}
	if err := s.device.startOperation(); err != nil {
		return nil, err
	}

	dependencies := waitFor
	if !s.device.configuration.OutOfOrder && s.lastEvent != nil {
		dependencies = append(slices.Clone(waitFor), s.lastEvent)
	}
	event := newSoftwareEvent()
	go func() {
		defer s.device.operations.Done()
		for _, dependency := range dependencies {
			if err := dependency.Wait(context.Background()); err != nil {
				event.complete(util.StatusWrap(err, "Dependency of operation failed"))
				return
			}
		}
		event.complete(operation())
	}()
	s.lastEvent = event
	return event, nil
}

func (s *softwareStream) Write(dst Buffer, src []byte, waitFor []Event) (Event, error) {
	dstBuffer, err := s.device.getBuffer(dst)
	if err != nil {
		return nil, err
	}
	if len(src) > len(dstBuffer.data) {
		return nil, status.Errorf(codes.InvalidArgument, "Cannot write %d bytes into a buffer of %d bytes", len(src), len(dstBuffer.data))
	}
	return s.enqueue(waitFor, func() error {
		copy(dstBuffer.data, src)
		return nil
	})
}

func (s *softwareStream) Read(dst []byte, src Buffer, waitFor []Event) (Event, error) {
	srcBuffer, err := s.device.getBuffer(src)
	if err != nil {
		return nil, err
	}
	if len(dst) > len(srcBuffer.data) {
		return nil, status.Errorf(codes.InvalidArgument, "Cannot read %d bytes from a buffer of %d bytes", len(dst), len(srcBuffer.data))
	}
	return s.enqueue(waitFor, func() error {
		copy(dst, srcBuffer.data)
		return nil
	})
}

func (s *softwareStream) LaunchLeafHash(dst, src Buffer, leafCount int, waitFor []Event) (Event, error) {
	dstBuffer, err := s.device.getBuffer(dst)
	if err != nil {
		return nil, err
	}
	srcBuffer, err := s.device.getBuffer(src)
	if err != nil {
		return nil, err
	}
	if workGroupSize := s.device.configuration.MinimumWorkGroupSize; leafCount <= 0 || leafCount%workGroupSize != 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Leaf count %d is not a positive multiple of the minimum work group size %d", leafCount, workGroupSize)
	}
	if sizeBytes := leafCount * leafhash.LeafSizeBytes; sizeBytes > len(srcBuffer.data) {
		return nil, status.Errorf(codes.InvalidArgument, "Hashing %d leaves requires a source buffer of %d bytes, while it is %d bytes in size", leafCount, sizeBytes, len(srcBuffer.data))
	}
	if sizeBytes := leafCount * leafhash.HashSizeBytes; sizeBytes > len(dstBuffer.data) {
		return nil, status.Errorf(codes.InvalidArgument, "Hashing %d leaves requires a destination buffer of %d bytes, while it is %d bytes in size", leafCount, sizeBytes, len(dstBuffer.data))
	}
	return s.enqueue(waitFor, func() error {
		return s.device.runLeafHashKernel(dstBuffer.data, srcBuffer.data, leafCount)
	})
}

func (s *softwareStream) Release() {
	s.lock.Lock()
	s.released = true
	s.lock.Unlock()
}

type softwareEvent struct {
	done chan struct{}
	err  error
}

func newSoftwareEvent() *softwareEvent {
	return &softwareEvent{done: make(chan struct{})}
}

func (e *softwareEvent) complete(err error) {
	e.err = err
	close(e.done)
}

func (e *softwareEvent) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return e.err
	default:
	}
	select {
	case <-e.done:
		return e.err
	case <-ctx.Done():
		return util.StatusFromContext(ctx)
	}
}
