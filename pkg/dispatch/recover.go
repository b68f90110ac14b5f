package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hyp3rd/otelpipe/pkg/layer"
)

var panicCallsite = Callsite("panic", "otelpipe.dispatch", layer.LevelError, layer.CallsiteEvent, "panic", "stack")

// Recover reports a panic as an error event on the current dispatcher and panics again.
// It must be deferred directly:
//
//	defer dispatch.Recover(ctx)
func Recover(ctx context.Context) {
	if r := recover(); r != nil {
		Current().reportPanic(ctx, r)
		panic(r)
	}
}

// Recover is the dispatcher-bound variant of the package function.
func (d *Dispatcher) Recover(ctx context.Context) {
	if r := recover(); r != nil {
		d.reportPanic(ctx, r)
		panic(r)
	}
}

func (d *Dispatcher) reportPanic(ctx context.Context, r any) {
	d.Event(ctx, panicCallsite, fmt.Sprintf("panic: %v", r),
		attribute.String("panic", fmt.Sprint(r)),
		attribute.String("stack", string(debug.Stack())),
	)
}
