package pipeline

import (
	"context"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hyp3rd/otelpipe/internal/constants"
)

const selfMeterName = "otelpipe/pipeline"

type selfInstruments struct {
	meter    metric.Meter
	exported metric.Int64ObservableCounter
	dropped  metric.Int64ObservableCounter
	enabled  metric.Int64ObservableGauge
}

func newSelfInstruments(provider metric.MeterProvider) (*selfInstruments, error) {
	meter := provider.Meter(selfMeterName)

	exported, err := meter.Int64ObservableCounter(
		"otelpipe.pipeline.exported",
		metric.WithDescription("Cumulative number of items accepted by the exporter"),
	)
	if err != nil {
		return nil, ewrap.Wrap(err, "create exported counter")
	}

	dropped, err := meter.Int64ObservableCounter(
		"otelpipe.pipeline.dropped",
		metric.WithDescription("Cumulative number of items dropped due to exporter failures"),
	)
	if err != nil {
		return nil, ewrap.Wrap(err, "create dropped counter")
	}

	enabled, err := meter.Int64ObservableGauge(
		"otelpipe.pipeline.kind.enabled",
		metric.WithDescription("Status (0=disabled,1=enabled) for each telemetry kind"),
	)
	if err != nil {
		return nil, ewrap.Wrap(err, "create kind enabled gauge")
	}

	return &selfInstruments{
		meter:    meter,
		exported: exported,
		dropped:  dropped,
		enabled:  enabled,
	}, nil
}

// register observes stats on every collection until the returned registration is removed.
func (si *selfInstruments) register(stats [kindCount]*exporterStats) (metric.Registration, error) {
	reg, err := si.meter.RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			for _, kind := range allKinds {
				kindAttr := metric.WithAttributes(attribute.String("kind", kind.String()))

				s := stats[kind]
				if s == nil {
					observer.ObserveInt64(si.enabled, 0, kindAttr)

					continue
				}

				observer.ObserveInt64(si.enabled, 1, kindAttr)
				observer.ObserveInt64(si.exported, s.exported.Load(), kindAttr)
				observer.ObserveInt64(si.dropped, s.dropped.Load(), kindAttr)
			}

			return nil
		},
		si.exported,
		si.dropped,
		si.enabled,
	)
	if err != nil {
		return nil, ewrap.Wrap(err, "register pipeline metrics callback",
			ewrap.WithRetry(constants.DefaultRetryAttempts, constants.DefaultRetryDelay))
	}

	return reg, nil
}

// registerSelfMetrics attaches the pipeline counters to the metrics provider so shutdown
// of that provider unregisters them first.
func registerSelfMetrics(managed *managedProvider, stats [kindCount]*exporterStats) error {
	instruments, err := newSelfInstruments(managed.metrics)
	if err != nil {
		return err
	}

	reg, err := instruments.register(stats)
	if err != nil {
		return err
	}

	managed.closers = append(managed.closers, func(context.Context) error {
		err := reg.Unregister()
		if err != nil {
			return ewrap.Wrap(err, "unregister pipeline metrics")
		}

		return nil
	})

	return nil
}
