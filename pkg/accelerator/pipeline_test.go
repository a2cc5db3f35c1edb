package accelerator_test

import (
	"context"
	"testing"

	"github.com/buildbarn/bb-treehash/internal/mock"
	"github.com/buildbarn/bb-treehash/pkg/accelerator"
	"github.com/buildbarn/bb-treehash/pkg/leafhash"
	"github.com/buildbarn/bb-treehash/pkg/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// expectedBatch computes the digest batch of a block without making
// use of an accelerator.
func expectedBatch(t *testing.T, function leafhash.Function, block []byte) []byte {
	batch := make([]byte, leafhash.BatchSizeBytes(len(block)))
	_, err := leafhash.NewCPUEngine(function, 1).HashLeaves(batch, block)
	require.NoError(t, err)
	return batch
}

// submitBlock copies a block into a newly acquired input region and
// submits it.
func submitBlock(ctx context.Context, t *testing.T, pipeline *accelerator.Pipeline, block []byte) {
	region, ok, err := pipeline.AcquireInputRegion(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, region, pipeline.BlockSizeBytes())
	copy(region, block)
	require.NoError(t, pipeline.Submit(len(block)))
}

// drainBlock obtains the output of the oldest block, compares it
// against the expected digest batch and releases the slot.
func drainBlock(ctx context.Context, t *testing.T, pipeline *accelerator.Pipeline, expected []byte) {
	output, ok, err := pipeline.AcquireOutput(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, expected, output)
	require.NoError(t, pipeline.ReleaseOutput())
}

func TestNewPipeline(t *testing.T) {
	device := newSoftwareDevice(t, accelerator.SoftwareDeviceConfiguration{
		Function:             leafhash.BLAKE256,
		MinimumWorkGroupSize: 1,
		MemoryBytes:          3 * 4096,
	})
	cpuEngine := leafhash.NewCPUEngine(leafhash.BLAKE256, 1)

	t.Run("InvalidBuffers", func(t *testing.T) {
		_, err := accelerator.NewPipeline(device, cpuEngine, accelerator.PipelineConfiguration{
			BlockSizeBytes: 4096,
		}, zap.NewNop())
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Number of buffers must be positive, not 0"), err)
	})

	t.Run("InvalidBlockSize", func(t *testing.T) {
		_, err := accelerator.NewPipeline(device, cpuEngine, accelerator.PipelineConfiguration{
			Buffers:        2,
			BlockSizeBytes: 5000,
		}, zap.NewNop())
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Block size must be a positive multiple of 2048 bytes, not 5000"), err)
	})

	t.Run("OutOfDeviceMemory", func(t *testing.T) {
		// Two slots require 2*(4096+64) bytes of device memory.
		// Memory of the first slot must be released again.
		_, err := accelerator.NewPipeline(device, cpuEngine, accelerator.PipelineConfiguration{
			Buffers:        3,
			BlockSizeBytes: 4096,
		}, zap.NewNop())
		testutil.RequireEqualStatus(t, status.Error(codes.ResourceExhausted, "Failed to allocate input buffer of slot 2: Cannot allocate 4096 bytes of device memory, as 8320 of 12288 bytes are already in use"), err)

		pipeline, err := accelerator.NewPipeline(device, cpuEngine, accelerator.PipelineConfiguration{
			Buffers:        2,
			BlockSizeBytes: 4096,
		}, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, pipeline.Close())
	})
}

func TestPipelineSoftwareDevice(t *testing.T) {
	ctx := context.Background()

	t.Run("Remainder", func(t *testing.T) {
		// A 5000 byte block yields two whole leaf digests,
		// followed by the digest of the final 904 bytes.
		device := newSoftwareDevice(t, accelerator.SoftwareDeviceConfiguration{
			Function:             leafhash.BLAKE256,
			MinimumWorkGroupSize: 1,
		})
		pipeline, err := accelerator.NewPipeline(device, leafhash.NewCPUEngine(leafhash.BLAKE256, 2), accelerator.PipelineConfiguration{
			Buffers:        2,
			BlockSizeBytes: 8192,
		}, zaptest.NewLogger(t))
		require.NoError(t, err)

		block := testutil.RandomDataForTest(t, 5000)
		submitBlock(ctx, t, pipeline, block)
		output, ok, err := pipeline.AcquireOutput(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, output, 3*leafhash.HashSizeBytes)
		remainder := leafhash.BLAKE256.Sum(block[4096:])
		require.Equal(t, remainder[:], output[64:])
		require.Equal(t, expectedBatch(t, leafhash.BLAKE256, block), output)

		// Acquiring the output again yields the same results.
		output, ok, err = pipeline.AcquireOutput(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, expectedBatch(t, leafhash.BLAKE256, block), output)

		require.NoError(t, pipeline.ReleaseOutput())
		require.Equal(t, 0, pipeline.Pending())
		require.NoError(t, pipeline.Close())
	})

	t.Run("WorkGroupRounding", func(t *testing.T) {
		// With a work group size of 4, only 8 of the 10 whole
		// leaves may be hashed by the device. The remaining two
		// leaves are hashed on the host.
		core, logs := observer.New(zap.DebugLevel)
		device := newSoftwareDevice(t, accelerator.SoftwareDeviceConfiguration{
			Function:             leafhash.BLAKE3,
			MinimumWorkGroupSize: 4,
		})
		pipeline, err := accelerator.NewPipeline(device, leafhash.NewCPUEngine(leafhash.BLAKE3, 2), accelerator.PipelineConfiguration{
			Buffers:        2,
			BlockSizeBytes: 16 * leafhash.LeafSizeBytes,
		}, zap.New(core))
		require.NoError(t, err)

		block := testutil.RandomDataForTest(t, 10*leafhash.LeafSizeBytes+37)
		submitBlock(ctx, t, pipeline, block)
		drainBlock(ctx, t, pipeline, expectedBatch(t, leafhash.BLAKE3, block))

		reduced := logs.FilterMessage("Global work size reduced").All()
		require.Len(t, reduced, 1)
		require.Equal(t, map[string]any{
			"whole_leaves":  int64(10),
			"device_leaves": int64(8),
		}, reduced[0].ContextMap())

		// Blocks smaller than a single work group are hashed on
		// the host entirely.
		block = testutil.RandomDataForTest(t, 3*leafhash.LeafSizeBytes)
		submitBlock(ctx, t, pipeline, block)
		drainBlock(ctx, t, pipeline, expectedBatch(t, leafhash.BLAKE3, block))

		require.NoError(t, pipeline.Close())
	})

	t.Run("Backpressure", func(t *testing.T) {
		device := newSoftwareDevice(t, accelerator.SoftwareDeviceConfiguration{
			Function:             leafhash.SHA256,
			MinimumWorkGroupSize: 1,
		})
		pipeline, err := accelerator.NewPipeline(device, leafhash.NewCPUEngine(leafhash.SHA256, 1), accelerator.PipelineConfiguration{
			Buffers:        2,
			BlockSizeBytes: 4 * leafhash.LeafSizeBytes,
		}, zaptest.NewLogger(t))
		require.NoError(t, err)

		blocks := [][]byte{
			testutil.RandomDataForTest(t, 4*leafhash.LeafSizeBytes),
			testutil.RandomDataForTest(t, 3*leafhash.LeafSizeBytes+1),
			testutil.RandomDataForTest(t, 17),
		}
		submitBlock(ctx, t, pipeline, blocks[0])
		submitBlock(ctx, t, pipeline, blocks[1])
		require.Equal(t, 2, pipeline.Pending())

		// All slots are busy, so no input region can be handed
		// out until the oldest block has been drained.
		for i := 0; i < 3; i++ {
			_, ok, err := pipeline.AcquireInputRegion(ctx)
			require.NoError(t, err)
			require.False(t, ok)
			require.Equal(t, 2, pipeline.Pending())
		}

		drainBlock(ctx, t, pipeline, expectedBatch(t, leafhash.SHA256, blocks[0]))
		require.Equal(t, 1, pipeline.Pending())
		submitBlock(ctx, t, pipeline, blocks[2])
		require.Equal(t, 2, pipeline.Pending())

		drainBlock(ctx, t, pipeline, expectedBatch(t, leafhash.SHA256, blocks[1]))
		drainBlock(ctx, t, pipeline, expectedBatch(t, leafhash.SHA256, blocks[2]))
		_, ok, err := pipeline.AcquireOutput(ctx)
		require.NoError(t, err)
		require.False(t, ok)
		require.NoError(t, pipeline.Close())
	})

	t.Run("FIFOFidelity", func(t *testing.T) {
		// Let operations on the same stream complete in any
		// order. Output must still be returned in the order in
		// which blocks were submitted.
		device := newSoftwareDevice(t, accelerator.SoftwareDeviceConfiguration{
			Function:             leafhash.BLAKE256,
			MinimumWorkGroupSize: 2,
			ComputeUnits:         8,
			OutOfOrder:           true,
		})
		pipeline, err := accelerator.NewPipeline(device, leafhash.NewCPUEngine(leafhash.BLAKE256, 4), accelerator.PipelineConfiguration{
			Buffers:        4,
			BlockSizeBytes: 64 * leafhash.LeafSizeBytes,
		}, zaptest.NewLogger(t))
		require.NoError(t, err)

		var expected [][]byte
		for i := 0; i < 20; i++ {
			// Vary the size of the blocks, so that their
			// outputs can be told apart.
			block := testutil.RandomDataForTest(t, 64*leafhash.LeafSizeBytes-i*1000)
			block[0] = byte(i)
			if pipeline.Pending() == 4 {
				_, ok, err := pipeline.AcquireInputRegion(ctx)
				require.NoError(t, err)
				require.False(t, ok)
				drainBlock(ctx, t, pipeline, expected[0])
				expected = expected[1:]
			}
			submitBlock(ctx, t, pipeline, block)
			expected = append(expected, expectedBatch(t, leafhash.BLAKE256, block))
			require.LessOrEqual(t, pipeline.Pending(), 4)
		}
		for _, batch := range expected {
			drainBlock(ctx, t, pipeline, batch)
		}
		require.Equal(t, 0, pipeline.Pending())
		require.NoError(t, pipeline.Close())
	})

	t.Run("EndOfStreamSentinel", func(t *testing.T) {
		device := newSoftwareDevice(t, accelerator.SoftwareDeviceConfiguration{
			Function:             leafhash.BLAKE256,
			MinimumWorkGroupSize: 1,
		})
		pipeline, err := accelerator.NewPipeline(device, leafhash.NewCPUEngine(leafhash.BLAKE256, 1), accelerator.PipelineConfiguration{
			Buffers:        2,
			BlockSizeBytes: leafhash.LeafSizeBytes,
		}, zaptest.NewLogger(t))
		require.NoError(t, err)

		block := testutil.RandomDataForTest(t, 100)
		submitBlock(ctx, t, pipeline, block)

		// Submitting a length of zero returns the slot to the
		// free state, without producing any output.
		_, ok, err := pipeline.AcquireInputRegion(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 2, pipeline.Pending())
		require.NoError(t, pipeline.Submit(0))
		require.Equal(t, 1, pipeline.Pending())

		drainBlock(ctx, t, pipeline, expectedBatch(t, leafhash.BLAKE256, block))
		_, ok, err = pipeline.AcquireOutput(ctx)
		require.NoError(t, err)
		require.False(t, ok)
		require.NoError(t, pipeline.Close())
	})

	t.Run("PreconditionViolations", func(t *testing.T) {
		device := newSoftwareDevice(t, accelerator.SoftwareDeviceConfiguration{
			Function:             leafhash.BLAKE256,
			MinimumWorkGroupSize: 1,
		})
		pipeline, err := accelerator.NewPipeline(device, leafhash.NewCPUEngine(leafhash.BLAKE256, 1), accelerator.PipelineConfiguration{
			Buffers:        2,
			BlockSizeBytes: leafhash.LeafSizeBytes,
		}, zaptest.NewLogger(t))
		require.NoError(t, err)

		testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "No input region has been acquired"), pipeline.Submit(100))
		testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "No slots are busy"), pipeline.ReleaseOutput())

		_, ok, err := pipeline.AcquireInputRegion(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		_, _, err = pipeline.AcquireInputRegion(ctx)
		testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "Previously acquired input region has not been submitted"), err)
		_, _, err = pipeline.AcquireOutput(ctx)
		testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "Oldest slot is in state ACQUIRED, while SUBMITTED was expected"), err)
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Committed length must be between 0 and 2048 bytes, not 2049"), pipeline.Submit(2049))
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Committed length must be between 0 and 2048 bytes, not -1"), pipeline.Submit(-1))

		require.NoError(t, pipeline.Submit(2048))
		testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "Oldest slot is in state SUBMITTED, while READY was expected"), pipeline.ReleaseOutput())
		testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "Cannot close pipeline while 1 slots are busy"), pipeline.Close())

		require.NoError(t, pipeline.Flush(ctx))
		require.Equal(t, 0, pipeline.Pending())
		require.NoError(t, pipeline.Close())

		_, _, err = pipeline.AcquireInputRegion(ctx)
		testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "Pipeline has been closed"), err)
		testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "Pipeline has already been closed"), pipeline.Close())
	})
}

// mockPipeline holds a Pipeline with two slots of four leaves each,
// backed by a mock device.
type mockPipeline struct {
	pipeline       *accelerator.Pipeline
	transferStream *mock.MockStream
	computeStream  *mock.MockStream
	inputBuffers   []*mock.MockBuffer
	outputBuffers  []*mock.MockBuffer
}

func newMockPipeline(ctrl *gomock.Controller, t *testing.T) *mockPipeline {
	device := mock.NewMockDevice(ctrl)
	device.EXPECT().Name().Return("mock").AnyTimes()
	device.EXPECT().MinimumWorkGroupSize().Return(2).AnyTimes()

	mp := &mockPipeline{
		transferStream: mock.NewMockStream(ctrl),
		computeStream:  mock.NewMockStream(ctrl),
	}
	device.EXPECT().NewStream().Return(mp.transferStream, nil)
	device.EXPECT().NewStream().Return(mp.computeStream, nil)
	for i := 0; i < 2; i++ {
		inputBuffer := mock.NewMockBuffer(ctrl)
		outputBuffer := mock.NewMockBuffer(ctrl)
		device.EXPECT().AllocateBuffer(4*leafhash.LeafSizeBytes).Return(inputBuffer, nil)
		device.EXPECT().AllocateBuffer(4*leafhash.HashSizeBytes).Return(outputBuffer, nil)
		mp.inputBuffers = append(mp.inputBuffers, inputBuffer)
		mp.outputBuffers = append(mp.outputBuffers, outputBuffer)
	}

	pipeline, err := accelerator.NewPipeline(device, leafhash.NewCPUEngine(leafhash.BLAKE256, 1), accelerator.PipelineConfiguration{
		Buffers:        2,
		BlockSizeBytes: 4 * leafhash.LeafSizeBytes,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	mp.pipeline = pipeline
	return mp
}

// expectClose sets up the expectations for releasing all resources.
func (mp *mockPipeline) expectClose() {
	for i := range mp.inputBuffers {
		mp.inputBuffers[i].EXPECT().Release()
		mp.outputBuffers[i].EXPECT().Release()
	}
	mp.transferStream.EXPECT().Release()
	mp.computeStream.EXPECT().Release()
}

func TestPipelineMockDevice(t *testing.T) {
	ctx := context.Background()

	t.Run("StreamCreationFailure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		device := mock.NewMockDevice(ctrl)
		device.EXPECT().MinimumWorkGroupSize().Return(256).AnyTimes()
		transferStream := mock.NewMockStream(ctrl)
		device.EXPECT().NewStream().Return(transferStream, nil)
		device.EXPECT().NewStream().Return(nil, status.Error(codes.Unavailable, "Too many queues"))
		transferStream.EXPECT().Release()

		_, err := accelerator.NewPipeline(device, leafhash.NewCPUEngine(leafhash.BLAKE256, 1), accelerator.PipelineConfiguration{
			Buffers:        4,
			BlockSizeBytes: accelerator.DefaultBlockSizeBytes,
		}, zaptest.NewLogger(t))
		testutil.RequireEqualStatus(t, status.Error(codes.Unavailable, "Failed to create compute stream: Too many queues"), err)
	})

	t.Run("Success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mp := newMockPipeline(ctrl, t)

		// Three whole leaves, of which only two are hashed by
		// the device. The third leaf and the remainder are
		// hashed on the host.
		block := testutil.RandomDataForTest(t, 3*leafhash.LeafSizeBytes+10)
		transferDone := mock.NewMockEvent(ctrl)
		mp.transferStream.EXPECT().Write(mp.inputBuffers[0], block[:2*leafhash.LeafSizeBytes], gomock.Nil()).Return(transferDone, nil)
		computeDone := mock.NewMockEvent(ctrl)
		mp.computeStream.EXPECT().LaunchLeafHash(mp.outputBuffers[0], mp.inputBuffers[0], 2, []accelerator.Event{transferDone}).Return(computeDone, nil)
		submitBlock(ctx, t, mp.pipeline, block)

		// Let the device return digests of the first two
		// leaves.
		expected := expectedBatch(t, leafhash.BLAKE256, block)
		readDone := mock.NewMockEvent(ctrl)
		mp.transferStream.EXPECT().Read(gomock.Len(2*leafhash.HashSizeBytes), mp.outputBuffers[0], []accelerator.Event{computeDone}).
			DoAndReturn(func(dst []byte, src accelerator.Buffer, waitFor []accelerator.Event) (accelerator.Event, error) {
				copy(dst, expected)
				return readDone, nil
			})
		readDone.EXPECT().Wait(gomock.Any())
		drainBlock(ctx, t, mp.pipeline, expected)

		mp.expectClose()
		require.NoError(t, mp.pipeline.Close())
	})

	t.Run("BlockedOnKernel", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mp := newMockPipeline(ctrl, t)

		var transferDone, computeDone []*mock.MockEvent
		for i := 0; i < 2; i++ {
			transferDone = append(transferDone, mock.NewMockEvent(ctrl))
			mp.transferStream.EXPECT().Write(mp.inputBuffers[i], gomock.Len(4*leafhash.LeafSizeBytes), gomock.Nil()).Return(transferDone[i], nil)
			computeDone = append(computeDone, mock.NewMockEvent(ctrl))
			mp.computeStream.EXPECT().LaunchLeafHash(mp.outputBuffers[i], mp.inputBuffers[i], 4, []accelerator.Event{transferDone[i]}).Return(computeDone[i], nil)
			submitBlock(ctx, t, mp.pipeline, make([]byte, 4*leafhash.LeafSizeBytes))
		}

		// When full, AcquireInputRegion() waits for the kernel of
		// the oldest block.
		computeDone[0].EXPECT().Wait(gomock.Any())
		_, ok, err := mp.pipeline.AcquireInputRegion(ctx)
		require.NoError(t, err)
		require.False(t, ok)

		// Cancelation while waiting is reported, but is not a
		// fatal error.
		canceledCtx, cancel := context.WithCancel(ctx)
		cancel()
		computeDone[0].EXPECT().Wait(canceledCtx).Return(status.Error(codes.Canceled, "context canceled"))
		_, _, err = mp.pipeline.AcquireInputRegion(canceledCtx)
		testutil.RequireEqualStatus(t, status.Error(codes.Canceled, "context canceled"), err)

		// Flushing waits for both blocks, without reading
		// their output.
		for i := 0; i < 2; i++ {
			transferDone[i].EXPECT().Wait(ctx)
			computeDone[i].EXPECT().Wait(ctx)
		}
		require.NoError(t, mp.pipeline.Flush(ctx))
		mp.expectClose()
		require.NoError(t, mp.pipeline.Close())
	})

	t.Run("ReadRetryAfterCancelation", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mp := newMockPipeline(ctrl, t)

		transferDone := mock.NewMockEvent(ctrl)
		mp.transferStream.EXPECT().Write(mp.inputBuffers[0], gomock.Len(4*leafhash.LeafSizeBytes), gomock.Nil()).Return(transferDone, nil)
		computeDone := mock.NewMockEvent(ctrl)
		mp.computeStream.EXPECT().LaunchLeafHash(mp.outputBuffers[0], mp.inputBuffers[0], 4, []accelerator.Event{transferDone}).Return(computeDone, nil)
		submitBlock(ctx, t, mp.pipeline, make([]byte, 4*leafhash.LeafSizeBytes))

		// The read operation may only be enqueued once, even if
		// waiting for it is interrupted.
		readDone := mock.NewMockEvent(ctrl)
		mp.transferStream.EXPECT().Read(gomock.Len(4*leafhash.HashSizeBytes), mp.outputBuffers[0], []accelerator.Event{computeDone}).Return(readDone, nil)
		canceledCtx, cancel := context.WithCancel(ctx)
		cancel()
		readDone.EXPECT().Wait(canceledCtx).Return(status.Error(codes.Canceled, "context canceled"))
		_, _, err := mp.pipeline.AcquireOutput(canceledCtx)
		testutil.RequireEqualStatus(t, status.Error(codes.Canceled, "context canceled"), err)

		readDone.EXPECT().Wait(ctx)
		drainBlock(ctx, t, mp.pipeline, make([]byte, 4*leafhash.HashSizeBytes))

		mp.expectClose()
		require.NoError(t, mp.pipeline.Close())
	})

	t.Run("KernelFailure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mp := newMockPipeline(ctrl, t)

		transferDone := mock.NewMockEvent(ctrl)
		mp.transferStream.EXPECT().Write(mp.inputBuffers[0], gomock.Len(2*leafhash.LeafSizeBytes), gomock.Nil()).Return(transferDone, nil)
		computeDone := mock.NewMockEvent(ctrl)
		mp.computeStream.EXPECT().LaunchLeafHash(mp.outputBuffers[0], mp.inputBuffers[0], 2, []accelerator.Event{transferDone}).Return(computeDone, nil)
		submitBlock(ctx, t, mp.pipeline, make([]byte, 2*leafhash.LeafSizeBytes))

		// Failures of the device are reported when waiting for
		// the output, and are returned by all calls afterwards.
		readDone := mock.NewMockEvent(ctrl)
		mp.transferStream.EXPECT().Read(gomock.Len(2*leafhash.HashSizeBytes), mp.outputBuffers[0], []accelerator.Event{computeDone}).Return(readDone, nil)
		readDone.EXPECT().Wait(ctx).Return(status.Error(codes.Internal, "Uncorrectable ECC error"))
		expectedErr := status.Error(codes.Internal, "Failed to obtain leaf digests from device: Uncorrectable ECC error")
		_, _, err := mp.pipeline.AcquireOutput(ctx)
		testutil.RequireEqualStatus(t, expectedErr, err)

		_, _, err = mp.pipeline.AcquireOutput(ctx)
		testutil.RequireEqualStatus(t, expectedErr, err)
		_, _, err = mp.pipeline.AcquireInputRegion(ctx)
		testutil.RequireEqualStatus(t, expectedErr, err)
		testutil.RequireEqualStatus(t, expectedErr, mp.pipeline.Submit(0))
		testutil.RequireEqualStatus(t, expectedErr, mp.pipeline.ReleaseOutput())

		// Flushing waits for all outstanding operations, after
		// which the pipeline can be closed.
		transferDone.EXPECT().Wait(ctx)
		computeDone.EXPECT().Wait(ctx).Return(status.Error(codes.Internal, "Uncorrectable ECC error"))
		readDone.EXPECT().Wait(ctx).Return(status.Error(codes.Internal, "Uncorrectable ECC error"))
		require.NoError(t, mp.pipeline.Flush(ctx))
		require.Equal(t, 0, mp.pipeline.Pending())

		mp.expectClose()
		require.NoError(t, mp.pipeline.Close())
	})

	t.Run("EnqueueFailure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mp := newMockPipeline(ctrl, t)

		region, ok, err := mp.pipeline.AcquireInputRegion(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		mp.transferStream.EXPECT().Write(mp.inputBuffers[0], region[:4*leafhash.LeafSizeBytes], gomock.Nil()).
			Return(nil, status.Error(codes.Internal, "Out of host memory"))
		testutil.RequireEqualStatus(
			t,
			status.Error(codes.Internal, "Failed to enqueue transfer of input to device: Out of host memory"),
			mp.pipeline.Submit(4*leafhash.LeafSizeBytes))

		require.NoError(t, mp.pipeline.Flush(ctx))
		mp.expectClose()
		require.NoError(t, mp.pipeline.Close())
	})
}
