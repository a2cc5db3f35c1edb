package configuration_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/buildbarn/bb-treehash/pkg/configuration"
	"github.com/buildbarn/bb-treehash/pkg/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func writeConfigurationFile(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "bb_treehash.jsonnet")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestGetApplicationConfiguration(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		c, err := configuration.GetApplicationConfiguration("")
		require.NoError(t, err)
		require.Equal(t, configuration.DefaultApplicationConfiguration(), *c)
		require.NoError(t, c.Validate())
	})

	t.Run("Overrides", func(t *testing.T) {
		// Fields that are not set retain their default values,
		// even within nested objects.
		c, err := configuration.GetApplicationConfiguration(writeConfigurationFile(t, `{
			leafFunction: 'blake3',
			blockSizeBytes: 64 * 2048,
			accelerator: {
				buffers: 2,
				device: { outOfOrder: true },
			},
			selfTest: { duration: '1500ms' },
		}`))
		require.NoError(t, err)
		require.NoError(t, c.Validate())

		expected := configuration.DefaultApplicationConfiguration()
		expected.LeafFunction = "blake3"
		expected.BlockSizeBytes = 64 * 2048
		expected.Accelerator.Buffers = 2
		expected.Accelerator.Device.OutOfOrder = true
		expected.SelfTest.Duration = configuration.Duration(1500 * time.Millisecond)
		require.Equal(t, expected, *c)
	})

	t.Run("UnknownField", func(t *testing.T) {
		path := writeConfigurationFile(t, `{ bogus: 42 }`)
		_, err := configuration.GetApplicationConfiguration(path)
		testutil.RequireEqualStatus(
			t,
			status.Errorf(codes.InvalidArgument, "Failed to read configuration from %#v: Failed to unmarshal configuration: json: unknown field \"bogus\"", path),
			err)
	})

	t.Run("NonExistentFile", func(t *testing.T) {
		_, err := configuration.GetApplicationConfiguration(filepath.Join(t.TempDir(), "nonexistent.jsonnet"))
		require.Error(t, err)
	})
}

func TestApplicationConfigurationValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(c *configuration.ApplicationConfiguration)
		err    error
	}{
		{
			"UnknownLeafFunction",
			func(c *configuration.ApplicationConfiguration) { c.LeafFunction = "md5" },
			status.Error(codes.InvalidArgument, "Unknown leaf hash function \"md5\", supported functions are: blake256, blake3, sha256, sha256tree"),
		},
		{
			"BlockSizeNotMultipleOfLeafSize",
			func(c *configuration.ApplicationConfiguration) { c.BlockSizeBytes = 1000000 },
			status.Error(codes.InvalidArgument, "Block size must be a positive multiple of 2048 bytes, not 1000000"),
		},
		{
			"ZeroBuffers",
			func(c *configuration.ApplicationConfiguration) { c.Accelerator.Buffers = 0 },
			status.Error(codes.InvalidArgument, "Number of accelerator buffers must be positive, not 0"),
		},
		{
			"ZeroWorkGroupSize",
			func(c *configuration.ApplicationConfiguration) { c.Accelerator.Device.MinimumWorkGroupSize = 0 },
			status.Error(codes.InvalidArgument, "Minimum work group size must be positive, not 0"),
		},
		{
			"NegativeSelfTestDuration",
			func(c *configuration.ApplicationConfiguration) { c.SelfTest.Duration = configuration.Duration(-time.Second) },
			status.Error(codes.InvalidArgument, "Self test duration must be positive, not -1s"),
		},
		{
			"UnsupportedDecompression",
			func(c *configuration.ApplicationConfiguration) { c.Input.Decompression = "gzip" },
			status.Error(codes.InvalidArgument, "Unsupported decompression \"gzip\", supported values are: none, zstd"),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := configuration.DefaultApplicationConfiguration()
			tc.modify(&c)
			testutil.RequireEqualStatus(t, tc.err, c.Validate())
		})
	}
}

func TestNewStreamHasherFromConfiguration(t *testing.T) {
	ctx := context.Background()
	data := testutil.RandomDataForTest(t, 50000)

	c := configuration.DefaultApplicationConfiguration()
	c.BlockSizeBytes = 8 * 2048
	c.Accelerator.Buffers = 2
	c.Accelerator.Device.MinimumWorkGroupSize = 4

	acceleratedStreamHasher, err := configuration.NewStreamHasherFromConfiguration(&c, zaptest.NewLogger(t))
	require.NoError(t, err)
	acceleratedDigest, err := acceleratedStreamHasher.HashStream(ctx, bytes.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, acceleratedStreamHasher.Close())

	c.Accelerator.Disabled = true
	cpuStreamHasher, err := configuration.NewStreamHasherFromConfiguration(&c, zaptest.NewLogger(t))
	require.NoError(t, err)
	cpuDigest, err := cpuStreamHasher.HashStream(ctx, bytes.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, cpuStreamHasher.Close())

	require.Equal(t, cpuDigest, acceleratedDigest)
	require.Equal(t, int64(50000), cpuDigest.SizeBytes)
}
