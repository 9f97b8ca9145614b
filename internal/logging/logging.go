// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production-configured logger. Verbose lowers the level
// to Debug. Interactive mode redirects output to a file so log lines do
// not interleave with streamed narration on stdout.
func New(verbose bool, outputPath string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if outputPath != "" {
		config.OutputPaths = []string{outputPath}
		config.ErrorOutputPaths = []string{outputPath}
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
