// Package logger wraps zerolog behind the package-level helpers the rest
// of MARTIN calls, so call sites never import zerolog directly.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	Init("info", os.Stdout)
}

// Init (re)configures the global logger. level is one of zerolog's parsed
// level names (debug, info, warn, error); unrecognized values fall back to
// info. Called once from cmd/martin at startup with the configured level,
// and again by tests that want quieter output.
func Init(level string, w io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func Debugf(format string, args ...interface{}) { log.Debug().Msgf(format, args...) }
func Infof(format string, args ...interface{})  { log.Info().Msgf(format, args...) }
func Warnf(format string, args ...interface{})  { log.Warn().Msgf(format, args...) }
func Errorf(format string, args ...interface{}) { log.Error().Msgf(format, args...) }

func Debug(args ...interface{}) { log.Debug().Msg(joinArgs(args...)) }
func Info(args ...interface{})  { log.Info().Msg(joinArgs(args...)) }
func Warn(args ...interface{})  { log.Warn().Msg(joinArgs(args...)) }
func Error(args ...interface{}) { log.Error().Msg(joinArgs(args...)) }

// WithCycle returns a logger event pre-tagged with a cycle number, used by
// the orchestrator to correlate every log line within one cycle.
func WithCycle(cycle int) *zerolog.Event { return log.Info().Int("cycle", cycle) }

func joinArgs(args ...interface{}) string {
	if len(args) == 1 {
		if s, ok := args[0].(string); ok {
			return s
		}
	}
	return fmt.Sprint(args...)
}
