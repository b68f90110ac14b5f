// Package diagnostics serves the pipeline's own status and Prometheus metrics over HTTP.
package diagnostics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hyp3rd/ewrap"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyp3rd/otelpipe/internal/constants"
	"github.com/hyp3rd/otelpipe/pkg/config"
	"github.com/hyp3rd/otelpipe/pkg/logging"
)

const (
	// StatusPath serves the JSON snapshot.
	StatusPath = "/otelpipe/status"
	// MetricsPath serves the Prometheus pull endpoint.
	MetricsPath = "/metrics"
)

// Snapshot is the status document served on StatusPath.
type Snapshot struct {
	ServiceName    string           `json:"service_name"`
	ServiceVersion string           `json:"service_version"`
	Environment    string           `json:"environment"`
	Protocol       string           `json:"protocol"`
	Destination    string           `json:"destination"`
	Kinds          []string         `json:"kinds"`
	Exporters      []ExporterStatus `json:"exporters"`
	StartTime      time.Time        `json:"start_time"`
	LastReloadTime time.Time        `json:"last_reload_time"`
	ReloadCount    int64            `json:"reload_count"`
	Shutdown       bool             `json:"shutdown"`
	Timestamp      time.Time        `json:"timestamp"`
}

// ExporterStatus describes one kind's exporter health.
type ExporterStatus struct {
	Kind          string    `json:"kind"`
	Protocol      string    `json:"protocol"`
	Endpoint      string    `json:"endpoint"`
	Exported      int64     `json:"exported"`
	Dropped       int64     `json:"dropped"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorTime time.Time `json:"last_error_time,omitzero"`
}

// SnapshotProvider supplies diagnostic snapshots.
type SnapshotProvider interface {
	Snapshot() Snapshot
}

// GathererProvider is implemented by providers that expose a Prometheus registry. The
// gatherer is looked up per request so it can change across reloads.
type GathererProvider interface {
	Gatherer() prometheus.Gatherer
}

// Server exposes status over HTTP.
type Server struct {
	cfg      config.DiagnosticsConfig
	provider SnapshotProvider
	logger   logging.Adapter

	server *http.Server
	mu     sync.Mutex
	start  sync.Once
	stop   sync.Once
}

// NewServer constructs a diagnostics server. A nil logger discards diagnostics.
func NewServer(cfg config.DiagnosticsConfig, provider SnapshotProvider, logger logging.Adapter) *Server {
	if logger == nil {
		logger = logging.NewNoopAdapter()
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		logger:   logger,
	}
}

// Handler returns the mux serving StatusPath and, when the provider can gather,
// MetricsPath.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(StatusPath, s.HandleStatus)

	if _, ok := s.provider.(GathererProvider); ok {
		mux.HandleFunc(MetricsPath, s.HandleMetrics)
	}

	return mux
}

// Start begins serving until ctx is canceled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.HTTPAddr == "" {
		return ewrap.New("diagnostics http_addr is required")
	}

	var startErr error

	s.start.Do(func() {
		s.mu.Lock()
		s.server = &http.Server{
			Addr:              s.cfg.HTTPAddr,
			Handler:           s.Handler(),
			ReadHeaderTimeout: constants.DefaultTimeout,
		}
		srv := s.server
		s.mu.Unlock()

		lc := net.ListenConfig{}

		ln, err := lc.Listen(ctx, "tcp", s.cfg.HTTPAddr)
		if err != nil {
			startErr = ewrap.Wrap(err, "listen diagnostics")

			return
		}

		go func() {
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.DefaultShutdownTimeout)
			defer cancel()

			if err := s.Shutdown(shutdownCtx); err != nil {
				s.logger.Error(shutdownCtx, err, "shutdown diagnostics server")
			}
		}()

		go func() {
			err := srv.Serve(ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error(ctx, err, "diagnostics server stopped")
			}
		}()
	})

	return startErr
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.stop.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.server == nil {
			return
		}

		ctxShutdown, cancel := context.WithTimeout(ctx, constants.DefaultShutdownTimeout)
		defer cancel()

		shutdownErr = s.server.Shutdown(ctxShutdown)
		s.server = nil
	})

	if shutdownErr != nil {
		return ewrap.Wrap(shutdownErr, "shutdown diagnostics server")
	}

	return nil
}

// HandleStatus serves a JSON snapshot.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)

		return
	}

	snapshot := s.provider.Snapshot()
	snapshot.Timestamp = time.Now().UTC()

	body, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(snapshot)
	if err != nil {
		s.logger.Error(r.Context(), err, "encode diagnostics snapshot")
		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	//nolint:errcheck // the client went away; nothing left to report to.
	_, _ = w.Write(body)
}

// HandleMetrics serves the current Prometheus registry, or 404 when none is configured.
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)

		return
	}

	gp, ok := s.provider.(GathererProvider)
	if !ok {
		http.NotFound(w, r)

		return
	}

	gatherer := gp.Gatherer()
	if gatherer == nil {
		http.NotFound(w, r)

		return
	}

	promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

func (s *Server) authorized(r *http.Request) bool {
	return s.cfg.AuthToken == "" || validAuth(r.Header.Get("Authorization"), s.cfg.AuthToken)
}

func validAuth(header, token string) bool {
	const prefix = "Bearer "

	if header == "" {
		return false
	}

	if !strings.HasPrefix(header, prefix) {
		return false
	}

	return strings.TrimSpace(header[len(prefix):]) == token
}
