package accelerator

import (
	"context"
	"sync"
	"time"

	"github.com/buildbarn/bb-treehash/pkg/leafhash"
	"github.com/buildbarn/bb-treehash/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// DefaultBuffers is the default number of slots of a Pipeline.
	DefaultBuffers = 4

	// DefaultBlockSizeBytes is the default input capacity of a slot.
	DefaultBlockSizeBytes = 8 << 20
)

var (
	pipelineMetricsOnce sync.Once

	pipelineBusySlots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "buildbarn",
			Subsystem: "treehash",
			Name:      "pipeline_busy_slots",
			Help:      "Number of accelerator pipeline slots that are not free.",
		})
	pipelineWaitDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildbarn",
			Subsystem: "treehash",
			Name:      "pipeline_wait_duration_seconds",
			Help:      "Amount of time the driver spent blocked on the accelerator pipeline, in seconds.",
			Buckets:   util.DecimalExponentialBuckets(-6, 7, 2),
		},
		[]string{"operation"})
)

// PipelineConfiguration contains the parameters of a Pipeline.
type PipelineConfiguration struct {
	// Buffers is the number of slots, which is the maximum number
	// of blocks that may be in flight at once.
	Buffers int

	// BlockSizeBytes is the input capacity of a single slot. It
	// must be a multiple of leafhash.LeafSizeBytes.
	BlockSizeBytes int
}

// Pipeline hashes the leaves of consecutive blocks of a stream on an
// accelerator Device. Up to a fixed number of blocks may be in flight,
// allowing the transfer of one block to overlap with computation on
// another. Results are always returned in the order in which blocks
// were submitted.
//
// Blocks go through the following steps:
//
//   - AcquireInputRegion() reserves a free slot and returns its input
//     buffer, which the caller fills.
//   - Submit() transfers the block to the device and launches the
//     kernel.
//   - AcquireOutput() waits for the oldest block and returns its digest
//     batch.
//   - ReleaseOutput() returns the oldest slot to the free state.
//
// Leaves that do not fit in a whole number of work groups, and the
// trailing partial leaf of a block, are hashed on the host using a
// leafhash.CPUEngine.
//
// Pipeline is not safe for concurrent use. A failure of the device is
// sticky: once it has been observed, all further calls return it.
type Pipeline struct {
	device         Device
	cpuEngine      *leafhash.CPUEngine
	logger         *zap.Logger
	blockSizeBytes int

	transferStream Stream
	computeStream  Stream
	slots          []slot

	// FIFO of indices into slots. Its order is both the order in
	// which blocks were submitted and the order in which they need
	// to be drained.
	queue      []int
	queueHead  int
	queueCount int

	err    error
	closed bool

	acquireInputRegionWaitDurationSeconds prometheus.Observer
	acquireOutputWaitDurationSeconds      prometheus.Observer
}

// NewPipeline creates a Pipeline, allocating device memory for all of
// its slots.
func NewPipeline(device Device, cpuEngine *leafhash.CPUEngine, configuration PipelineConfiguration, logger *zap.Logger) (*Pipeline, error) {
	pipelineMetricsOnce.Do(func() {
		prometheus.MustRegister(pipelineBusySlots)
		prometheus.MustRegister(pipelineWaitDurationSeconds)
	})

	if configuration.Buffers <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Number of buffers must be positive, not %d", configuration.Buffers)
	}
	if blockSizeBytes := configuration.BlockSizeBytes; blockSizeBytes <= 0 || blockSizeBytes%leafhash.LeafSizeBytes != 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Block size must be a positive multiple of %d bytes, not %d", leafhash.LeafSizeBytes, blockSizeBytes)
	}
	if workGroupSize := device.MinimumWorkGroupSize(); workGroupSize <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Device %#v reports an invalid minimum work group size of %d", device.Name(), workGroupSize)
	}

	p := &Pipeline{
		device:         device,
		cpuEngine:      cpuEngine,
		logger:         logger,
		blockSizeBytes: configuration.BlockSizeBytes,
		slots:          make([]slot, configuration.Buffers),
		queue:          make([]int, configuration.Buffers),

		acquireInputRegionWaitDurationSeconds: pipelineWaitDurationSeconds.WithLabelValues("AcquireInputRegion"),
		acquireOutputWaitDurationSeconds:      pipelineWaitDurationSeconds.WithLabelValues("AcquireOutput"),
	}
	if err := p.allocate(); err != nil {
		p.releaseResources()
		return nil, err
	}
	logger.Debug(
		"Created accelerator pipeline",
		zap.String("device", device.Name()),
		zap.Int("buffers", configuration.Buffers),
		zap.Int("block_size_bytes", configuration.BlockSizeBytes),
		zap.Int("minimum_work_group_size", device.MinimumWorkGroupSize()))
	return p, nil
}

func (p *Pipeline) allocate() error {
	var err error
	if p.transferStream, err = p.device.NewStream(); err != nil {
		return util.StatusWrap(err, "Failed to create transfer stream")
	}
	if p.computeStream, err = p.device.NewStream(); err != nil {
		return util.StatusWrap(err, "Failed to create compute stream")
	}

	outputSizeBytes := leafhash.BatchSizeBytes(p.blockSizeBytes)
	for i := range p.slots {
		s := &p.slots[i]
		s.hostInput = make([]byte, p.blockSizeBytes)
		s.hostOutput = make([]byte, outputSizeBytes)
		if s.deviceInput, err = p.device.AllocateBuffer(p.blockSizeBytes); err != nil {
			return util.StatusWrapf(err, "Failed to allocate input buffer of slot %d", i)
		}
		if s.deviceOutput, err = p.device.AllocateBuffer(outputSizeBytes); err != nil {
			return util.StatusWrapf(err, "Failed to allocate output buffer of slot %d", i)
		}
	}
	return nil
}

func (p *Pipeline) releaseResources() {
	for i := range p.slots {
		p.slots[i].release()
	}
	if p.transferStream != nil {
		p.transferStream.Release()
		p.transferStream = nil
	}
	if p.computeStream != nil {
		p.computeStream.Release()
		p.computeStream = nil
	}
}

// BlockSizeBytes returns the size of the input regions returned by
// AcquireInputRegion().
func (p *Pipeline) BlockSizeBytes() int {
	return p.blockSizeBytes
}

// Pending returns the number of slots that are not free.
func (p *Pipeline) Pending() int {
	return p.queueCount
}

func (p *Pipeline) checkUsable() error {
	if p.closed {
		return status.Error(codes.FailedPrecondition, "Pipeline has been closed")
	}
	return p.err
}

// fail records a device failure, so that it is returned by all further
// calls.
func (p *Pipeline) fail(err error) error {
	p.err = err
	p.logger.Error("Accelerator pipeline failed", zap.Error(err))
	return err
}

func (p *Pipeline) queueIndex(i int) int {
	return p.queue[(p.queueHead+i)%len(p.queue)]
}

func (p *Pipeline) headSlot() *slot {
	return &p.slots[p.queueIndex(0)]
}

func (p *Pipeline) tailSlot() *slot {
	return &p.slots[p.queueIndex(p.queueCount-1)]
}

func (p *Pipeline) push(index int) {
	p.queue[(p.queueHead+p.queueCount)%len(p.queue)] = index
	p.queueCount++
	pipelineBusySlots.Inc()
}

func (p *Pipeline) popHead() {
	p.headSlot().reset()
	p.queueHead = (p.queueHead + 1) % len(p.queue)
	p.queueCount--
	pipelineBusySlots.Dec()
}

func (p *Pipeline) popTail() {
	p.tailSlot().reset()
	p.queueCount--
	pipelineBusySlots.Dec()
}

// waitForEvent waits for an event to complete. Failures of the
// operation are sticky, while cancelation of the context is not.
func (p *Pipeline) waitForEvent(ctx context.Context, event Event, observer prometheus.Observer, description string) error {
	timeStart := time.Now()
	err := event.Wait(ctx)
	observer.Observe(time.Since(timeStart).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return p.fail(util.StatusWrap(err, description))
	}
	return nil
}

// AcquireInputRegion reserves a free slot and returns its input
// buffer, which may be filled up to BlockSizeBytes(). If all slots are
// busy, it blocks until the kernel of the oldest block completes and
// returns false, indicating that the caller should drain output before
// trying again.
func (p *Pipeline) AcquireInputRegion(ctx context.Context) ([]byte, bool, error) {
	if err := p.checkUsable(); err != nil {
		return nil, false, err
	}
	if p.queueCount > 0 && p.tailSlot().state == slotStateAcquired {
		return nil, false, status.Error(codes.FailedPrecondition, "Previously acquired input region has not been submitted")
	}

	if p.queueCount == len(p.slots) {
		if head := p.headSlot(); head.state == slotStateSubmitted && head.computeDone != nil {
			if err := p.waitForEvent(ctx, head.computeDone, p.acquireInputRegionWaitDurationSeconds, "Leaf hash kernel failed"); err != nil {
				return nil, false, err
			}
		}
		return nil, false, nil
	}

	for i := range p.slots {
		if s := &p.slots[i]; s.state == slotStateFree {
			s.state = slotStateAcquired
			p.push(i)
			return s.hostInput, true, nil
		}
	}
	return nil, false, status.Error(codes.Internal, "No free slot found, even though the queue is not full")
}

// Submit schedules hashing of the first committedLength bytes of the
// most recently acquired input region. A committedLength of zero
// returns the slot to the free state without scheduling any work,
// which is used at the end of the stream.
func (p *Pipeline) Submit(committedLength int) error {
	if err := p.checkUsable(); err != nil {
		return err
	}
	if p.queueCount == 0 || p.tailSlot().state != slotStateAcquired {
		return status.Error(codes.FailedPrecondition, "No input region has been acquired")
	}
	if committedLength < 0 || committedLength > p.blockSizeBytes {
		return status.Errorf(codes.InvalidArgument, "Committed length must be between 0 and %d bytes, not %d", p.blockSizeBytes, committedLength)
	}
	if committedLength == 0 {
		p.popTail()
		return nil
	}

	s := p.tailSlot()
	s.state = slotStateSubmitted
	s.committedBytes = committedLength

	// Kernels can only be launched on a whole number of work
	// groups. Leaves that don't fill an entire work group are
	// hashed on the host, together with the partial leaf.
	wholeLeaves, _ := leafhash.SplitLeaves(committedLength)
	s.deviceLeaves = wholeLeaves - wholeLeaves%p.device.MinimumWorkGroupSize()
	if s.deviceLeaves != wholeLeaves {
		p.logger.Debug(
			"Global work size reduced",
			zap.Int("whole_leaves", wholeLeaves),
			zap.Int("device_leaves", s.deviceLeaves))
	}
	if s.deviceLeaves == 0 {
		return nil
	}

	var err error
	if s.transferDone, err = p.transferStream.Write(s.deviceInput, s.hostInput[:s.deviceLeaves*leafhash.LeafSizeBytes], nil); err != nil {
		return p.fail(util.StatusWrap(err, "Failed to enqueue transfer of input to device"))
	}
	if s.computeDone, err = p.computeStream.LaunchLeafHash(s.deviceOutput, s.deviceInput, s.deviceLeaves, []Event{s.transferDone}); err != nil {
		return p.fail(util.StatusWrap(err, "Failed to enqueue leaf hash kernel"))
	}
	return nil
}

// AcquireOutput blocks until the oldest submitted block has been
// hashed, returning its digest batch. False is returned if no blocks
// are in flight. The slot remains busy until ReleaseOutput() is
// called, meaning the digest batch may be accessed until then.
//
// If the context is canceled, AcquireOutput() may be called again to
// resume waiting.
func (p *Pipeline) AcquireOutput(ctx context.Context) ([]byte, bool, error) {
	if err := p.checkUsable(); err != nil {
		return nil, false, err
	}
	if p.queueCount == 0 {
		return nil, false, nil
	}

	s := p.headSlot()
	switch s.state {
	case slotStateReady:
		return s.hostOutput[:s.outputSizeBytes()], true, nil
	case slotStateSubmitted:
	default:
		return nil, false, status.Errorf(codes.FailedPrecondition, "Oldest slot is in state %s, while %s was expected", s.state, slotStateSubmitted)
	}

	if s.deviceLeaves > 0 {
		if s.readDone == nil {
			var err error
			if s.readDone, err = p.transferStream.Read(s.hostOutput[:s.deviceLeaves*leafhash.HashSizeBytes], s.deviceOutput, []Event{s.computeDone}); err != nil {
				return nil, false, p.fail(util.StatusWrap(err, "Failed to enqueue transfer of output from device"))
			}
		}
		if err := p.waitForEvent(ctx, s.readDone, p.acquireOutputWaitDurationSeconds, "Failed to obtain leaf digests from device"); err != nil {
			return nil, false, err
		}
	}

	deviceBytes := s.deviceLeaves * leafhash.LeafSizeBytes
	if _, err := p.cpuEngine.HashLeaves(s.hostOutput[s.deviceLeaves*leafhash.HashSizeBytes:], s.hostInput[deviceBytes:s.committedBytes]); err != nil {
		return nil, false, p.fail(util.StatusWrap(err, "Failed to hash remaining leaves on the host"))
	}
	s.state = slotStateReady
	return s.hostOutput[:s.outputSizeBytes()], true, nil
}

// ReleaseOutput returns the oldest slot to the free state. It may only
// be called after its output has been obtained through AcquireOutput().
func (p *Pipeline) ReleaseOutput() error {
	if err := p.checkUsable(); err != nil {
		return err
	}
	if p.queueCount == 0 {
		return status.Error(codes.FailedPrecondition, "No slots are busy")
	}
	if s := p.headSlot(); s.state != slotStateReady {
		return status.Errorf(codes.FailedPrecondition, "Oldest slot is in state %s, while %s was expected", s.state, slotStateReady)
	}
	p.popHead()
	return nil
}

// Flush waits for all operations that are in flight to complete and
// returns all slots to the free state, discarding their output. It
// may be called after a failure, so that the pipeline can be closed.
func (p *Pipeline) Flush(ctx context.Context) error {
	if p.closed {
		return status.Error(codes.FailedPrecondition, "Pipeline has been closed")
	}
	for p.queueCount > 0 {
		if err := p.headSlot().waitForIdle(ctx); err != nil {
			return err
		}
		p.popHead()
	}
	return nil
}

// Close releases all streams and device memory held by the pipeline.
// The device itself is left open. All slots must be free.
func (p *Pipeline) Close() error {
	if p.closed {
		return status.Error(codes.FailedPrecondition, "Pipeline has already been closed")
	}
	if p.queueCount > 0 {
		return status.Errorf(codes.FailedPrecondition, "Cannot close pipeline while %d slots are busy", p.queueCount)
	}
	p.closed = true
	p.releaseResources()
	return nil
}
