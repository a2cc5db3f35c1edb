package configuration

import (
	"github.com/buildbarn/bb-treehash/pkg/accelerator"
	"github.com/buildbarn/bb-treehash/pkg/leafhash"
	"github.com/buildbarn/bb-treehash/pkg/treehash"
	"github.com/buildbarn/bb-treehash/pkg/util"
	"go.uber.org/zap"
)

// NewCPUEngineFromConfiguration creates the engine that is used to
// hash leaves on the host.
func NewCPUEngineFromConfiguration(c *ApplicationConfiguration) (*leafhash.CPUEngine, error) {
	function, err := leafhash.GetFunction(c.LeafFunction)
	if err != nil {
		return nil, err
	}
	return leafhash.NewCPUEngine(function, c.CPU.Concurrency), nil
}

// NewDeviceFromConfiguration creates the accelerator device, decorated
// with Prometheus metrics.
func NewDeviceFromConfiguration(c *ApplicationConfiguration) (accelerator.Device, error) {
	function, err := leafhash.GetFunction(c.LeafFunction)
	if err != nil {
		return nil, err
	}
	deviceConfiguration := c.Accelerator.Device
	device, err := accelerator.NewSoftwareDevice(accelerator.SoftwareDeviceConfiguration{
		Function:             function,
		MinimumWorkGroupSize: deviceConfiguration.MinimumWorkGroupSize,
		ComputeUnits:         deviceConfiguration.ComputeUnits,
		MemoryBytes:          deviceConfiguration.MemoryBytes,
		OutOfOrder:           deviceConfiguration.OutOfOrder,
	})
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to create accelerator device")
	}
	return accelerator.NewMetricsDevice(device, "software"), nil
}

// NewPipelineFromConfiguration creates an accelerator pipeline on top
// of an existing device.
func NewPipelineFromConfiguration(c *ApplicationConfiguration, device accelerator.Device, cpuEngine *leafhash.CPUEngine, logger *zap.Logger) (*accelerator.Pipeline, error) {
	pipeline, err := accelerator.NewPipeline(device, cpuEngine, accelerator.PipelineConfiguration{
		Buffers:        c.Accelerator.Buffers,
		BlockSizeBytes: c.BlockSizeBytes,
	}, logger)
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to create accelerator pipeline")
	}
	return pipeline, nil
}

// StreamHasher that is created by NewStreamHasherFromConfiguration().
// Close releases the accelerator, if any.
type StreamHasher struct {
	treehash.StreamHasher

	pipeline *accelerator.Pipeline
	device   accelerator.Device
}

// Close releases the accelerator pipeline and device.
func (sh *StreamHasher) Close() error {
	if sh.pipeline != nil {
		if err := sh.pipeline.Close(); err != nil {
			return err
		}
	}
	if sh.device != nil {
		return sh.device.Close()
	}
	return nil
}

// NewStreamHasherFromConfiguration creates a StreamHasher, either
// hashing leaves on the host or using an accelerator pipeline.
func NewStreamHasherFromConfiguration(c *ApplicationConfiguration, logger *zap.Logger) (*StreamHasher, error) {
	cpuEngine, err := NewCPUEngineFromConfiguration(c)
	if err != nil {
		return nil, err
	}
	if c.Accelerator.Disabled {
		streamHasher, err := treehash.NewCPUStreamHasher(cpuEngine, c.BlockSizeBytes)
		if err != nil {
			return nil, err
		}
		return &StreamHasher{StreamHasher: streamHasher}, nil
	}

	device, err := NewDeviceFromConfiguration(c)
	if err != nil {
		return nil, err
	}
	pipeline, err := NewPipelineFromConfiguration(c, device, cpuEngine, logger)
	if err != nil {
		device.Close()
		return nil, err
	}
	logger.Info("Using accelerator", zap.String("device", device.Name()))
	return &StreamHasher{
		StreamHasher: treehash.NewAcceleratedStreamHasher(pipeline, cpuEngine.Function(), logger),
		pipeline:     pipeline,
		device:       device,
	}, nil
}
