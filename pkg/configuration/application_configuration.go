package configuration

import (
	"encoding/json"
	"time"

	"github.com/buildbarn/bb-treehash/pkg/accelerator"
	"github.com/buildbarn/bb-treehash/pkg/leafhash"
	"github.com/buildbarn/bb-treehash/pkg/util"
	"go.uber.org/zap/zapcore"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ApplicationConfiguration is the schema of the Jsonnet configuration
// file accepted by bb_treehash.
type ApplicationConfiguration struct {
	// Name of the function used to hash leaves and to combine leaf
	// digests into the root digest.
	LeafFunction string `json:"leafFunction"`

	// Size of the blocks in which the input is read. Must be a
	// multiple of the leaf size.
	BlockSizeBytes int `json:"blockSizeBytes"`

	CPU         CPUConfiguration         `json:"cpu"`
	Accelerator AcceleratorConfiguration `json:"accelerator"`
	SelfTest    SelfTestConfiguration    `json:"selfTest"`
	Diagnostics DiagnosticsConfiguration `json:"diagnostics"`
	Input       InputConfiguration       `json:"input"`
}

// CPUConfiguration controls hashing of leaves on the host.
type CPUConfiguration struct {
	// Maximum number of goroutines hashing the leaves of a single
	// block. Zero selects GOMAXPROCS.
	Concurrency int `json:"concurrency"`
}

// AcceleratorConfiguration controls the accelerator pipeline.
type AcceleratorConfiguration struct {
	// Disabled causes all leaves to be hashed on the host.
	Disabled bool `json:"disabled"`

	// Number of blocks that may be in flight at once.
	Buffers int `json:"buffers"`

	Device DeviceConfiguration `json:"device"`
}

// DeviceConfiguration describes the accelerator device.
type DeviceConfiguration struct {
	MinimumWorkGroupSize int   `json:"minimumWorkGroupSize"`
	ComputeUnits         int   `json:"computeUnits"`
	MemoryBytes          int64 `json:"memoryBytes"`
	OutOfOrder           bool  `json:"outOfOrder"`
}

// SelfTestConfiguration controls the synthetic throughput tests.
type SelfTestConfiguration struct {
	Duration Duration `json:"duration"`
}

// DiagnosticsConfiguration controls logging and the HTTP server
// exposing Prometheus metrics.
type DiagnosticsConfiguration struct {
	// One of zap's level names, such as "debug" or "info".
	LogLevel string `json:"logLevel"`

	// Address on which to serve metrics. Leave empty to disable.
	ListenAddress string `json:"listenAddress"`
}

// InputConfiguration controls how the input stream is read.
type InputConfiguration struct {
	// Either "none" or "zstd".
	Decompression string `json:"decompression"`
}

// Duration is a time.Duration that is represented as a string in
// configuration files, such as "5s" or "1m30s".
type Duration time.Duration

// UnmarshalJSON parses a duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON emits the duration in string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// DefaultApplicationConfiguration returns the configuration that is
// used for fields that are not set in the configuration file.
func DefaultApplicationConfiguration() ApplicationConfiguration {
	return ApplicationConfiguration{
		LeafFunction:   leafhash.BLAKE256.Name(),
		BlockSizeBytes: accelerator.DefaultBlockSizeBytes,
		Accelerator: AcceleratorConfiguration{
			Buffers: accelerator.DefaultBuffers,
			Device: DeviceConfiguration{
				MinimumWorkGroupSize: 256,
			},
		},
		SelfTest: SelfTestConfiguration{
			Duration: Duration(5 * time.Second),
		},
		Diagnostics: DiagnosticsConfiguration{
			LogLevel: "info",
		},
		Input: InputConfiguration{
			Decompression: "none",
		},
	}
}

// GetApplicationConfiguration loads the configuration file at a given
// path, applying defaults for fields that are not set. An empty path
// yields the default configuration.
func GetApplicationConfiguration(path string) (*ApplicationConfiguration, error) {
	configuration := DefaultApplicationConfiguration()
	if path != "" {
		// The file is evaluated with Jsonnet and decoded with
		// encoding/json, as ApplicationConfiguration is not a
		// protobuf message. Unknown fields are rejected.
		if err := util.UnmarshalConfigurationFromFile(path, &configuration); err != nil {
			return nil, util.StatusWrapf(err, "Failed to read configuration from %#v", path)
		}
	}
	return &configuration, nil
}

// Validate checks whether the configuration is consistent.
func (c *ApplicationConfiguration) Validate() error {
	if _, err := leafhash.GetFunction(c.LeafFunction); err != nil {
		return err
	}
	if c.BlockSizeBytes <= 0 || c.BlockSizeBytes%leafhash.LeafSizeBytes != 0 {
		return status.Errorf(codes.InvalidArgument, "Block size must be a positive multiple of %d bytes, not %d", leafhash.LeafSizeBytes, c.BlockSizeBytes)
	}
	if c.CPU.Concurrency < 0 {
		return status.Errorf(codes.InvalidArgument, "CPU concurrency must be non-negative, not %d", c.CPU.Concurrency)
	}
	if c.Accelerator.Buffers <= 0 {
		return status.Errorf(codes.InvalidArgument, "Number of accelerator buffers must be positive, not %d", c.Accelerator.Buffers)
	}
	if c.Accelerator.Device.MinimumWorkGroupSize <= 0 {
		return status.Errorf(codes.InvalidArgument, "Minimum work group size must be positive, not %d", c.Accelerator.Device.MinimumWorkGroupSize)
	}
	if c.SelfTest.Duration <= 0 {
		return status.Errorf(codes.InvalidArgument, "Self test duration must be positive, not %s", time.Duration(c.SelfTest.Duration))
	}
	if _, err := zapcore.ParseLevel(c.Diagnostics.LogLevel); err != nil {
		return util.StatusWrapWithCode(err, codes.InvalidArgument, "Invalid log level")
	}
	switch c.Input.Decompression {
	case "none", "zstd":
	default:
		return status.Errorf(codes.InvalidArgument, "Unsupported decompression %#v, supported values are: none, zstd", c.Input.Decompression)
	}
	return nil
}
