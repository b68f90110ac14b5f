// Package sql instruments database/sql connections against a pipeline's providers.
package sql

import (
	"database/sql"

	"github.com/XSAM/otelsql"
	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/hyp3rd/otelpipe/pkg/config"
)

// ErrDriverNameCannotBeEmpty is returned when a required driver name is not provided.
var ErrDriverNameCannotBeEmpty = ewrap.New("driverName cannot be empty")

// Helper wires otelsql to explicit providers, never to the OpenTelemetry globals. A
// connection keeps the providers it was opened with.
type Helper struct {
	cfg    config.SQLInstrumentationConfig
	tracer trace.TracerProvider
	meter  metric.MeterProvider
}

// NewHelper returns a helper reporting spans to tp and connection metrics to mp. A nil
// provider disables that kind.
func NewHelper(cfg config.SQLInstrumentationConfig, tp trace.TracerProvider, mp metric.MeterProvider) *Helper {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}

	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}

	return &Helper{cfg: cfg, tracer: tp, meter: mp}
}

// Register wraps the driver registered as driverName and returns the name of the
// instrumented driver to pass to sql.Open.
func (h *Helper) Register(driverName string, opts ...otelsql.Option) (string, error) {
	if driverName == "" {
		return "", ErrDriverNameCannotBeEmpty
	}

	name, err := otelsql.Register(driverName, h.options(driverName, opts...)...)
	if err != nil {
		return "", ewrap.Wrap(err, "register instrumented driver")
	}

	return name, nil
}

// Open behaves like sql.Open with every connection instrumented.
func (h *Helper) Open(driverName, dataSourceName string, opts ...otelsql.Option) (*sql.DB, error) {
	if driverName == "" {
		return nil, ErrDriverNameCannotBeEmpty
	}

	db, err := otelsql.Open(driverName, dataSourceName, h.options(driverName, opts...)...)
	if err != nil {
		return nil, ewrap.Wrap(err, "open instrumented database")
	}

	return db, nil
}

// RegisterDBStats reports sql.DBStats of db as observable metrics.
func (h *Helper) RegisterDBStats(db *sql.DB, opts ...otelsql.Option) error {
	if db == nil {
		return ewrap.New("db cannot be nil")
	}

	err := otelsql.RegisterDBStatsMetrics(db, h.options("", opts...)...)
	if err != nil {
		return ewrap.Wrap(err, "register db stats metrics")
	}

	return nil
}

func (h *Helper) options(driverName string, userOpts ...otelsql.Option) []otelsql.Option {
	final := []otelsql.Option{
		otelsql.WithTracerProvider(h.tracer),
		otelsql.WithMeterProvider(h.meter),
		otelsql.WithSpanOptions(otelsql.SpanOptions{DisableQuery: !h.cfg.CollectQueries}),
	}

	if driverName != "" {
		final = append(final, otelsql.WithAttributes(semconv.DBSystemKey.String(driverName)))
	}

	return append(final, userOpts...)
}
