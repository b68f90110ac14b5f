// Package worker opens spans around background jobs.
package worker

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hyp3rd/otelpipe/pkg/dispatch"
	"github.com/hyp3rd/otelpipe/pkg/layer"
)

const (
	target = "otelpipe.worker"

	jobCountField    = layer.MonotonicCounterPrefix + "worker.job.count"
	jobDurationField = layer.HistogramPrefix + "worker.job.duration_ms"
)

var (
	jobSpan     = dispatch.Callsite("worker.job", target, layer.LevelInfo, layer.CallsiteSpan)
	jobFinished = dispatch.Callsite("worker.job.finished", target, layer.LevelInfo, layer.CallsiteEvent,
		jobCountField, jobDurationField)
	jobFailed = dispatch.Callsite("worker.job.failed", target, layer.LevelError, layer.CallsiteEvent)
)

// JobInfo contains metadata describing a worker job execution.
type JobInfo struct {
	Name       string
	Queue      string
	Schedule   string
	Attributes []attribute.KeyValue
}

// Helper wraps job executions in dispatcher spans.
type Helper struct {
	d *dispatch.Dispatcher
}

// NewHelper returns a helper reporting to d. A nil d follows dispatch.Current.
func NewHelper(d *dispatch.Dispatcher) *Helper {
	return &Helper{d: d}
}

// Instrument runs fn inside a job span and reports its outcome. A panic in fn is reported
// with its stack and then re-raised.
func (h *Helper) Instrument(ctx context.Context, info JobInfo, fn func(context.Context) error) error {
	if h == nil {
		return fn(ctx)
	}

	d := h.d
	if d == nil {
		d = dispatch.Current()
	}

	if info.Name == "" {
		info.Name = "worker-job"
	}

	attrs := jobAttributes(info)

	ctx, span := d.Span(ctx, jobSpan, append([]attribute.KeyValue{
		attribute.String(layer.FieldName, spanName(info)),
	}, attrs...)...)
	defer span.End()

	start := time.Now()

	var err error

	span.InScope(func() {
		defer d.Recover(ctx)

		err = fn(ctx)
	})

	if err != nil {
		span.Record(
			attribute.String(layer.FieldStatusCode, "error"),
			attribute.String(layer.FieldStatusMessage, err.Error()),
		)
		d.Event(ctx, jobFailed, "job failed", attribute.String("error", err.Error()))
	} else {
		span.Record(attribute.String(layer.FieldStatusCode, "ok"))
	}

	d.Event(ctx, jobFinished, spanName(info), append(attrs,
		attribute.String("worker.result", resultTag(err)),
		attribute.Int64(jobCountField, 1),
		attribute.Float64(jobDurationField, float64(time.Since(start))/float64(time.Millisecond)),
	)...)

	return err
}

func spanName(info JobInfo) string {
	if info.Queue != "" {
		return info.Queue + ":" + info.Name
	}

	return info.Name
}

func jobAttributes(info JobInfo) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("worker.name", info.Name),
	}
	if info.Queue != "" {
		attrs = append(attrs, attribute.String("worker.queue", info.Queue))
	}

	if info.Schedule != "" {
		attrs = append(attrs, attribute.String("worker.schedule", info.Schedule))
	}

	return append(attrs, info.Attributes...)
}

func resultTag(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
