package observe

import (
	grpcinstr "github.com/hyp3rd/otelpipe/pkg/instrumentation/grpc"
	httpinstr "github.com/hyp3rd/otelpipe/pkg/instrumentation/http"
	sqlinstr "github.com/hyp3rd/otelpipe/pkg/instrumentation/sql"
)

// HTTPMiddleware returns the HTTP server middleware, or nil when
// instrumentation.http.enabled is false.
func (c *Client) HTTPMiddleware() *httpinstr.Middleware {
	cfg := c.Config().Instrumentation.HTTP
	if !cfg.Enabled {
		return nil
	}

	return httpinstr.NewMiddleware(c.dispatcher, cfg)
}

// GRPCInterceptors returns the gRPC interceptors and whether instrumentation.grpc.enabled
// is set.
func (c *Client) GRPCInterceptors() (grpcinstr.Interceptors, bool) {
	cfg := c.Config().Instrumentation.GRPC
	if !cfg.Enabled {
		return grpcinstr.Interceptors{}, false
	}

	return grpcinstr.NewInterceptors(c.dispatcher, cfg), true
}

// SQL returns a database/sql helper bound to the active pipeline's trace and metrics
// providers, or nil when instrumentation.sql.enabled is false. Connections opened through
// it keep reporting to that pipeline; reopen them after a reload.
func (c *Client) SQL() *sqlinstr.Helper {
	c.mu.RLock()
	cfg := c.cfg.Instrumentation.SQL
	p := c.pipeline
	c.mu.RUnlock()

	if !cfg.Enabled {
		return nil
	}

	return sqlinstr.NewHelper(cfg, p.TracerProvider(), p.MeterProvider())
}
