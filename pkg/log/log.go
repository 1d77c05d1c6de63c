package log

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	// LogVerbosityInfo is the default verbosity.
	LogVerbosityInfo = 0
	// LogVerbosityWarn suppresses informational chatter.
	LogVerbosityWarn = 1
	// LogVerbosityDebug turns on debug logging.
	LogVerbosityDebug = 2
	// LogVerbosityTrace is the band below debug; console transcripts and
	// per-step decisions are logged at this level.
	LogVerbosityTrace = 9

	formatText = "text"
	formatJSON = "json"

	outputStdout = "stdout"
	outputStderr = "stderr"
)

type loggerCtxKeyType string

const loggerKey loggerCtxKeyType = "vrnode.logger"

// Config represents the configuration settings for a logger.
type Config struct {
	// Verbosity specifies the logging verbosity level.
	Verbosity int
	// Trace is shorthand for Verbosity = LogVerbosityTrace.
	Trace bool
	// Format specifies the output log format.
	Format string
	// Output specifies the destination for the logs: stdout, stderr or a file path.
	Output string
}

// Configure will configure the standard logger from the supplied config.
func Configure(logConfig *Config) error {
	verbosity := logConfig.Verbosity
	if logConfig.Trace {
		verbosity = LogVerbosityTrace
	}

	logrus.SetLevel(levelFor(verbosity))

	switch strings.ToLower(logConfig.Format) {
	case formatJSON:
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case formatText, "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return FormatError{Format: logConfig.Format}
	}

	output := strings.ToLower(logConfig.Output)

	switch output {
	case "":
		return ErrLogOutputRequired
	case outputStdout:
		logrus.SetOutput(os.Stdout)
	case outputStderr:
		logrus.SetOutput(os.Stderr)
	default:
		dir := filepath.Dir(logConfig.Output)
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("creating log directory %s: %w", dir, err)
		}

		file, err := os.OpenFile(logConfig.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file %s: %w", logConfig.Output, err)
		}

		logrus.SetOutput(file)
	}

	return nil
}

func levelFor(verbosity int) logrus.Level {
	switch {
	case verbosity >= LogVerbosityTrace:
		return logrus.TraceLevel
	case verbosity >= LogVerbosityDebug:
		return logrus.DebugLevel
	case verbosity == LogVerbosityWarn:
		return logrus.WarnLevel
	default:
		return logrus.InfoLevel
	}
}

// AddFlagsToCommand will add the logging flags to the supplied command.
func AddFlagsToCommand(cmd *cobra.Command, logConfig *Config) {
	cmd.PersistentFlags().IntVarP(&logConfig.Verbosity,
		"verbosity",
		"v",
		LogVerbosityInfo,
		"The verbosity level of the logging. 0 is info, 2 is debug, 9 is trace.")

	cmd.PersistentFlags().BoolVar(&logConfig.Trace,
		"trace",
		false,
		"Enable the trace log band below debug.")

	cmd.PersistentFlags().StringVar(&logConfig.Format,
		"log-format",
		formatText,
		"The format of the logs: text or json.")

	cmd.PersistentFlags().StringVar(&logConfig.Output,
		"log-output",
		outputStderr,
		"The output for logs: stdout, stderr or a file path.")
}

// WithLogger returns a new context with the supplied logger attached.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// GetLogger returns the logger attached to the context, or the standard
// logger if there is none.
func GetLogger(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*logrus.Entry); ok {
			return logger
		}
	}

	return logrus.NewEntry(logrus.StandardLogger())
}
