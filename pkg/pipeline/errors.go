package pipeline

import (
	"errors"
	"strings"

	"github.com/hyp3rd/ewrap"
)

var (
	// ErrAlreadyShutdown is reported for a provider or sink that was shut down before.
	ErrAlreadyShutdown = ewrap.New("already shut down")
	// ErrUnsupportedValue is returned by the JSON log sink for a value it cannot encode.
	ErrUnsupportedValue = ewrap.New("unsupported value")
)

// ConfigError is the panic value raised by the Builder for programmer errors: enabling a
// kind twice, selecting a transport that was not compiled in, malformed headers or an
// exporter that cannot be constructed.
type ConfigError struct {
	err error
}

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{err: ewrap.Newf(format, args...)}
}

func configErrorWrap(err error, msg string) *ConfigError {
	return &ConfigError{err: ewrap.Wrap(err, msg)}
}

// Error implements error.
func (e *ConfigError) Error() string {
	if e == nil || e.err == nil {
		return ""
	}

	return e.err.Error()
}

// Unwrap returns the underlying cause.
func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.err
}

// ShutdownError aggregates the per-kind failures of Pipeline.Shutdown. A nil field means
// the kind was either disabled or shut down cleanly.
type ShutdownError struct {
	Logs    error
	Trace   error
	Metrics error
}

// Error implements error.
func (e *ShutdownError) Error() string {
	var b strings.Builder

	b.WriteString("failed to shutdown pipeline:")

	for _, kind := range allKinds {
		if err := e.For(kind); err != nil {
			b.WriteString(" ")
			b.WriteString(kind.String())
			b.WriteString("=")
			b.WriteString(err.Error())
		}
	}

	return b.String()
}

// Unwrap exposes every per-kind cause to errors.Is and errors.As.
func (e *ShutdownError) Unwrap() []error {
	out := make([]error, 0, len(allKinds))
	for _, kind := range allKinds {
		if err := e.For(kind); err != nil {
			out = append(out, err)
		}
	}

	return out
}

// For returns the failure recorded for kind.
func (e *ShutdownError) For(kind Kind) error {
	if e == nil {
		return nil
	}

	switch kind {
	case KindLogs:
		return e.Logs
	case KindTrace:
		return e.Trace
	case KindMetrics:
		return e.Metrics
	default:
		return nil
	}
}

// Failed lists the kinds that failed to shut down.
func (e *ShutdownError) Failed() []Kind {
	var out []Kind

	for _, kind := range allKinds {
		if e.For(kind) != nil {
			out = append(out, kind)
		}
	}

	return out
}

func (e *ShutdownError) set(kind Kind, err error) {
	switch kind {
	case KindLogs:
		e.Logs = err
	case KindTrace:
		e.Trace = err
	case KindMetrics:
		e.Metrics = err
	}
}

func (e *ShutdownError) empty() bool {
	return e.Logs == nil && e.Trace == nil && e.Metrics == nil
}

// IsAlreadyShutdown reports whether err carries ErrAlreadyShutdown.
func IsAlreadyShutdown(err error) bool {
	return errors.Is(err, ErrAlreadyShutdown)
}
