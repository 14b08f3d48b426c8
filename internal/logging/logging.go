// Package logging builds the hclog.Logger shared by every depot
// subsystem.
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// envLogLevel lets CI pipelines pin a level without touching argv.
const envLogLevel = "DEPOT_LOG"

// New builds the root logger for a single depot invocation. verbosity is the
// repeat count of the `-v` flag: 0 means silent unless DEPOT_LOG is set, 1 is
// info, 2 is debug, 3+ is trace.
func New(verbosity int) (hclog.Logger, error) {
	var level hclog.Level
	switch {
	case verbosity <= 0:
		level = hclog.NoLevel
		if v := os.Getenv(envLogLevel); v != "" {
			level = hclog.LevelFromString(v)
			if level == hclog.NoLevel {
				return nil, errors.Errorf("%s value %q is not a valid log level", envLogLevel, v)
			}
		}
	case verbosity == 1:
		level = hclog.Info
	case verbosity == 2:
		level = hclog.Debug
	default:
		level = hclog.Trace
	}

	var output io.Writer = io.Discard
	color := hclog.ColorOff
	if level != hclog.NoLevel {
		output = os.Stderr
		color = hclog.AutoColor
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:   "depot",
		Level:  level,
		Color:  color,
		Output: output,
	}), nil
}
