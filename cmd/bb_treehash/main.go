package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/buildbarn/bb-treehash/pkg/clock"
	"github.com/buildbarn/bb-treehash/pkg/configuration"
	"github.com/buildbarn/bb-treehash/pkg/global"
	"github.com/buildbarn/bb-treehash/pkg/leafhash"
	"github.com/buildbarn/bb-treehash/pkg/program"
	bb_prometheus "github.com/buildbarn/bb-treehash/pkg/prometheus"
	"github.com/buildbarn/bb-treehash/pkg/selftest"
	"github.com/buildbarn/bb-treehash/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type commandLineOptions struct {
	cpuOnly              bool
	selfTest             bool
	verbose              bool
	configurationPath    string
	leafFunction         string
	decompression        string
	metricsListenAddress string
	metricsDump          bool
}

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var options commandLineOptions
	command := &cobra.Command{
		Use:   "bb_treehash [flags] <path|->",
		Short: "Compute the tree hash of a file or standard input",
		Long: "bb_treehash splits its input into leaves of 2048 bytes, hashes\n" +
			"the leaves on an accelerator or on the host, and prints the root\n" +
			"digest as a hexadecimal string.",
		Args: func(cmd *cobra.Command, args []string) error {
			if options.selfTest {
				return cobra.MaximumNArgs(1)(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := getConfiguration(cmd, &options)
			if err != nil {
				return err
			}
			logger, diagnosticsServer, err := global.ApplyConfiguration(&c.Diagnostics, options.verbose, os.Stderr)
			if err != nil {
				return util.StatusWrap(err, "Failed to apply global configuration options")
			}
			logger.Debug("Detected CPU features", zap.String("features", strings.Join(leafhash.CPUFeatures(), " ")))

			program.RunMain(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
				dependenciesGroup.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
					return diagnosticsServer.Serve(ctx)
				})
				if options.metricsDump {
					defer func() {
						if err := bb_prometheus.DumpMetrics(os.Stderr, bb_prometheus.NewNameFilteringGatherer(prometheus.DefaultGatherer, bb_prometheus.TreeHashMetricsPattern)); err != nil {
							logger.Warn("Failed to dump metrics", zap.Error(err))
						}
					}()
				}

				if options.selfTest {
					if err := runSelfTest(ctx, c, logger); err != nil {
						return err
					}
				}
				if len(args) > 0 {
					diagnosticsServer.SetReady()
					return hashPath(ctx, c, args[0], logger)
				}
				return nil
			})
			return nil
		},
	}

	flags := command.Flags()
	flags.BoolVarP(&options.cpuOnly, "cpu", "c", false, "Hash all leaves on the host, without using an accelerator")
	flags.BoolVarP(&options.selfTest, "self-test", "t", false, "Check a known vector and measure throughput. If a path is also provided, it is hashed afterwards")
	flags.BoolVarP(&options.verbose, "verbose", "v", false, "Log debug messages")
	flags.StringVar(&options.configurationPath, "config", "", "Path of a Jsonnet configuration file")
	flags.StringVar(&options.leafFunction, "leaf-function", "", "Hash function to use, overriding the configuration file")
	flags.StringVar(&options.decompression, "decompress", "", "Decompression to apply to the input (none, zstd)")
	flags.StringVar(&options.metricsListenAddress, "metrics-listen-address", "", "Address on which to serve Prometheus metrics")
	flags.BoolVar(&options.metricsDump, "metrics-dump", false, "Write metrics to standard error when done")
	return command
}

// getConfiguration loads the configuration file and applies overrides
// provided on the command line.
func getConfiguration(cmd *cobra.Command, options *commandLineOptions) (*configuration.ApplicationConfiguration, error) {
	c, err := configuration.GetApplicationConfiguration(options.configurationPath)
	if err != nil {
		return nil, err
	}
	if options.cpuOnly {
		c.Accelerator.Disabled = true
	}
	if options.leafFunction != "" {
		c.LeafFunction = options.leafFunction
	}
	if options.decompression != "" {
		c.Input.Decompression = options.decompression
	}
	if cmd.Flags().Changed("metrics-listen-address") {
		c.Diagnostics.ListenAddress = options.metricsListenAddress
	}
	if err := c.Validate(); err != nil {
		return nil, util.StatusWrap(err, "Invalid configuration")
	}
	return c, nil
}

func hashPath(ctx context.Context, c *configuration.ApplicationConfiguration, path string, logger *zap.Logger) error {
	streamHasher, err := configuration.NewStreamHasherFromConfiguration(c, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := streamHasher.Close(); err != nil {
			logger.Warn("Failed to release stream hasher", zap.Error(err))
		}
	}()

	input, err := openInput(path, c.Input.Decompression)
	if err != nil {
		return err
	}
	defer input.Close()

	start := time.Now()
	digest, err := streamHasher.HashStream(ctx, input)
	if err != nil {
		return util.StatusWrapf(err, "Failed to hash %#v", path)
	}
	elapsed := time.Since(start)
	fmt.Println(digest)

	logger.Debug(
		"Hashed input",
		zap.String("path", path),
		zap.Int64("size_bytes", digest.SizeBytes),
		zap.Int64("leaves", digest.Leaves),
		zap.Duration("duration", elapsed),
		zap.Float64("mebibytes_per_second", selftest.ThroughputResult{SizeBytes: digest.SizeBytes, Duration: elapsed}.MebibytesPerSecond()))
	return nil
}

func runSelfTest(ctx context.Context, c *configuration.ApplicationConfiguration, logger *zap.Logger) error {
	cpuEngine, err := configuration.NewCPUEngineFromConfiguration(c)
	if err != nil {
		return err
	}
	duration := time.Duration(c.SelfTest.Duration)
	var result selftest.ThroughputResult
	if c.Accelerator.Disabled {
		result, err = selftest.Run(ctx, selftest.CheckKnownVector, func(ctx context.Context) (selftest.ThroughputResult, error) {
			return selftest.MeasureCPUThroughput(ctx, clock.SystemClock, cpuEngine, c.BlockSizeBytes, duration)
		})
		if err != nil {
			return err
		}
	} else {
		device, err := configuration.NewDeviceFromConfiguration(c)
		if err != nil {
			return err
		}
		defer device.Close()
		pipeline, err := configuration.NewPipelineFromConfiguration(c, device, cpuEngine, logger)
		if err != nil {
			return err
		}
		result, err = selftest.Run(ctx, selftest.CheckKnownVector, func(ctx context.Context) (selftest.ThroughputResult, error) {
			return selftest.MeasureAcceleratorThroughput(ctx, clock.SystemClock, pipeline, duration)
		})
		if err != nil {
			// Measurement may have been canceled with
			// blocks in flight.
			if flushErr := pipeline.Flush(context.WithoutCancel(ctx)); flushErr != nil {
				logger.Warn("Failed to flush accelerator pipeline", zap.Error(flushErr))
			}
		}
		if closeErr := pipeline.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}
	}
	logger.Info(
		"Self test completed",
		zap.String("known_vector", selftest.KnownVectorDigest),
		zap.Bool("accelerator", !c.Accelerator.Disabled),
		zap.Int64("size_bytes", result.SizeBytes),
		zap.Float64("mebibytes_per_second", result.MebibytesPerSecond()))
	return nil
}
