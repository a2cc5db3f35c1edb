package accelerator

import (
	"context"

	"github.com/buildbarn/bb-treehash/pkg/leafhash"
)

type slotState int

const (
	slotStateFree slotState = iota
	slotStateAcquired
	slotStateSubmitted
	slotStateReady
)

func (s slotState) String() string {
	switch s {
	case slotStateFree:
		return "FREE"
	case slotStateAcquired:
		return "ACQUIRED"
	case slotStateSubmitted:
		return "SUBMITTED"
	case slotStateReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// slot is a pair of input and output buffers, both on the host and on
// the device, that holds one block of the stream while it is being
// hashed. Slots are stored in an arena owned by the Pipeline and are
// referred to by index.
type slot struct {
	state slotState

	hostInput    []byte
	hostOutput   []byte
	deviceInput  Buffer
	deviceOutput Buffer

	// Properties of the current occupant. Leaves beyond
	// deviceLeaves are hashed on the host.
	committedBytes int
	deviceLeaves   int

	transferDone Event
	computeDone  Event
	readDone     Event
}

// outputSizeBytes returns the size of the digest batch of the current
// occupant.
func (s *slot) outputSizeBytes() int {
	return leafhash.BatchSizeBytes(s.committedBytes)
}

// waitForIdle blocks until no operations referencing the slot's
// buffers are in flight anymore. Failures of the operations themselves
// are ignored, as the slot is about to be discarded.
func (s *slot) waitForIdle(ctx context.Context) error {
	for _, event := range []Event{s.transferDone, s.computeDone, s.readDone} {
		if event != nil {
			if err := event.Wait(ctx); err != nil && ctx.Err() != nil {
				return err
			}
		}
	}
	return nil
}

// reset returns the slot to the free state.
func (s *slot) reset() {
	s.state = slotStateFree
	s.committedBytes = 0
	s.deviceLeaves = 0
	s.transferDone = nil
	s.computeDone = nil
	s.readDone = nil
}

// release frees the device memory backing the slot.
func (s *slot) release() {
	if s.deviceInput != nil {
		s.deviceInput.Release()
		s.deviceInput = nil
	}
	if s.deviceOutput != nil {
		s.deviceOutput.Release()
		s.deviceOutput = nil
	}
}
