package global

import (
	"runtime"

	"github.com/buildbarn/bb-treehash/pkg/configuration"
	"github.com/buildbarn/bb-treehash/pkg/util"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"google.golang.org/grpc/codes"
)

// ApplyConfiguration applies configuration options to the running
// process. A logger writing to logOutput is created and installed as
// zap's global logger. The returned DiagnosticsServer needs to be
// started by the caller.
func ApplyConfiguration(configuration *configuration.DiagnosticsConfiguration, verbose bool, logOutput zapcore.WriteSyncer) (*zap.Logger, *DiagnosticsServer, error) {
	level, err := zapcore.ParseLevel(configuration.LogLevel)
	if err != nil {
		return nil, nil, util.StatusWrapWithCode(err, codes.InvalidArgument, "Invalid log level")
	}
	if verbose {
		level = zapcore.DebugLevel
	}

	encoderConfiguration := zap.NewDevelopmentEncoderConfig()
	encoderConfiguration.EncodeTime = zapcore.RFC3339TimeEncoder
	logger := zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfiguration),
		zapcore.Lock(logOutput),
		level))
	zap.ReplaceGlobals(logger)

	if configuration.ListenAddress != "" {
		// Only pay for profiling when someone can access the
		// results.
		runtime.SetMutexProfileFraction(1)
	}
	return logger, NewDiagnosticsServer(configuration.ListenAddress, logger), nil
}
