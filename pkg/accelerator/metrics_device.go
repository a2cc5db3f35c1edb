package accelerator

import (
	"context"
	"sync"
	"time"

	"github.com/buildbarn/bb-treehash/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	deviceMetricsOnce sync.Once

	deviceOperationsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "treehash",
			Name:      "device_operations_enqueued_total",
			Help:      "Total number of operations enqueued on accelerator streams.",
		},
		[]string{"name", "operation"})
	deviceTransferredBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "treehash",
			Name:      "device_transferred_bytes_total",
			Help:      "Total number of bytes transferred between host and accelerator memory.",
		},
		[]string{"name", "direction"})
	deviceHashedLeavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "treehash",
			Name:      "device_hashed_leaves_total",
			Help:      "Total number of leaves submitted to leaf hash kernels.",
		},
		[]string{"name"})
	deviceEventWaitDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildbarn",
			Subsystem: "treehash",
			Name:      "device_event_wait_duration_seconds",
			Help:      "Amount of time spent waiting for accelerator operations to complete, in seconds.",
			Buckets:   util.DecimalExponentialBuckets(-6, 7, 2),
		},
		[]string{"name", "operation", "result"})
)

type metricsDevice struct {
	Device

	name string
}

// NewMetricsDevice creates a decorator for Device that adds basic
// instrumentation in the form of Prometheus metrics.
func NewMetricsDevice(base Device, name string) Device {
	deviceMetricsOnce.Do(func() {
		prometheus.MustRegister(deviceOperationsEnqueuedTotal)
		prometheus.MustRegister(deviceTransferredBytesTotal)
		prometheus.MustRegister(deviceHashedLeavesTotal)
		prometheus.MustRegister(deviceEventWaitDurationSeconds)
	})

	return &metricsDevice{
		Device: base,
		name:   name,
	}
}

func (d *metricsDevice) NewStream() (Stream, error) {
	base, err := d.Device.NewStream()
	if err != nil {
		return nil, err
	}
	return &metricsStream{
		Stream: base,
		name:   d.name,

		writesEnqueued:   deviceOperationsEnqueuedTotal.WithLabelValues(d.name, "Write"),
		readsEnqueued:    deviceOperationsEnqueuedTotal.WithLabelValues(d.name, "Read"),
		launchesEnqueued: deviceOperationsEnqueuedTotal.WithLabelValues(d.name, "LaunchLeafHash"),
		bytesToDevice:    deviceTransferredBytesTotal.WithLabelValues(d.name, "ToDevice"),
		bytesFromDevice:  deviceTransferredBytesTotal.WithLabelValues(d.name, "FromDevice"),
		hashedLeaves:     deviceHashedLeavesTotal.WithLabelValues(d.name),
	}, nil
}

type metricsStream struct {
	Stream

	name             string
	writesEnqueued   prometheus.Counter
	readsEnqueued    prometheus.Counter
	launchesEnqueued prometheus.Counter
	bytesToDevice    prometheus.Counter
	bytesFromDevice  prometheus.Counter
	hashedLeaves     prometheus.Counter
}

func (s *metricsStream) newEvent(base Event, operation string) Event {
	return &metricsEvent{
		Event:     base,
		name:      s.name,
		operation: operation,
	}
}

func (s *metricsStream) Write(dst Buffer, src []byte, waitFor []Event) (Event, error) {
	event, err := s.Stream.Write(dst, src, unwrapEvents(waitFor))
	if err != nil {
		return nil, err
	}
	s.writesEnqueued.Inc()
	s.bytesToDevice.Add(float64(len(src)))
	return s.newEvent(event, "Write"), nil
}

func (s *metricsStream) Read(dst []byte, src Buffer, waitFor []Event) (Event, error) {
	event, err := s.Stream.Read(dst, src, unwrapEvents(waitFor))
	if err != nil {
		return nil, err
	}
	s.readsEnqueued.Inc()
	s.bytesFromDevice.Add(float64(len(dst)))
	return s.newEvent(event, "Read"), nil
}

func (s *metricsStream) LaunchLeafHash(dst, src Buffer, leafCount int, waitFor []Event) (Event, error) {
	event, err := s.Stream.LaunchLeafHash(dst, src, leafCount, unwrapEvents(waitFor))
	if err != nil {
		return nil, err
	}
	s.launchesEnqueued.Inc()
	s.hashedLeaves.Add(float64(leafCount))
	return s.newEvent(event, "LaunchLeafHash"), nil
}

type metricsEvent struct {
	Event

	name      string
	operation string
}

func (e *metricsEvent) Wait(ctx context.Context) error {
	timeStart := time.Now()
	err := e.Event.Wait(ctx)
	result := "Success"
	if err != nil {
		result = "Failure"
	}
	deviceEventWaitDurationSeconds.WithLabelValues(e.name, e.operation, result).Observe(time.Since(timeStart).Seconds())
	return err
}

// unwrapEvents strips the metrics decorator from events before they
// are handed to the underlying stream, as the underlying stream may
// only accept its own events as dependencies.
func unwrapEvents(events []Event) []Event {
	if len(events) == 0 {
		return events
	}
	unwrapped := make([]Event, 0, len(events))
	for _, event := range events {
		if metricsEvent, ok := event.(*metricsEvent); ok {
			event = metricsEvent.Event
		}
		unwrapped = append(unwrapped, event)
	}
	return unwrapped
}
