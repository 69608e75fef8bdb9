// Package hipolog provides the zerolog-backed hipo.Logger implementation
// used by cmd/hipowriter; the writer core itself only depends on the
// hipo.Logger interface.
package hipolog

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured, leveled logging, with an optional
// sampler applied to Warn/Error to tame high-frequency events such as
// compressor-worker errors and disk-full poll retries.
type Logger struct {
	logger  zerolog.Logger
	sampler zerolog.Sampler
	sampled zerolog.Logger
}

// New creates a Logger writing to stderr with a timestamp on every event. If
// HIPO_LOG_SAMPLE_N is set to an integer > 1, Warn and Error are sampled
// with zerolog.RandomSampler(n).
func New() *Logger {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	var samp zerolog.Sampler
	if v := os.Getenv("HIPO_LOG_SAMPLE_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			samp = zerolog.RandomSampler(n)
		}
	}
	var sampled zerolog.Logger
	if samp != nil {
		sampled = l.Sample(samp)
	}
	return &Logger{logger: l, sampler: samp, sampled: sampled}
}

func (l *Logger) log(event *zerolog.Event, msg string, keysAndValues ...interface{}) {
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		if i+1 < len(keysAndValues) {
			event.Interface(key, keysAndValues[i+1])
		} else {
			event.Interface(key, nil)
		}
	}
	event.Msg(msg)
}

// Debug logs a debug-level message with structured key/value pairs.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Debug(), msg, keysAndValues...)
}

// Info logs an info-level message with structured key/value pairs.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Info(), msg, keysAndValues...)
}

// Warn logs a warning-level message, sampled if HIPO_LOG_SAMPLE_N is set.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	if l.sampler != nil {
		l.log(l.sampled.Warn(), msg, keysAndValues...)
		return
	}
	l.log(l.logger.Warn(), msg, keysAndValues...)
}

// Error logs an error-level message, sampled if HIPO_LOG_SAMPLE_N is set.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	if l.sampler != nil {
		l.log(l.sampled.Error(), msg, keysAndValues...)
		return
	}
	l.log(l.logger.Error(), msg, keysAndValues...)
}
