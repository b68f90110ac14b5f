package diagnostics_test

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hyp3rd/otelpipe/pkg/config"
	"github.com/hyp3rd/otelpipe/pkg/diagnostics"
)

type stubSnapshotProvider struct {
	snapshot diagnostics.Snapshot
}

func (s stubSnapshotProvider) Snapshot() diagnostics.Snapshot {
	return s.snapshot
}

type stubGatheringProvider struct {
	stubSnapshotProvider

	gatherer prometheus.Gatherer
}

func (s stubGatheringProvider) Gatherer() prometheus.Gatherer {
	return s.gatherer
}

func TestHandleStatusReturnsSnapshot(t *testing.T) {
	t.Parallel()

	provider := stubSnapshotProvider{
		snapshot: diagnostics.Snapshot{
			ServiceName: "test",
			Protocol:    "grpc",
			Kinds:       []string{"logs", "trace"},
			Exporters: []diagnostics.ExporterStatus{{
				Kind:          "trace",
				Protocol:      "grpc",
				Endpoint:      "http://collector:4317",
				Exported:      12,
				LastError:     "boom",
				LastErrorTime: time.Date(2024, 12, 5, 12, 0, 0, 0, time.UTC),
			}},
		},
	}
	server := diagnostics.NewServer(config.DiagnosticsConfig{Enabled: true, HTTPAddr: "127.0.0.1:0"}, provider, nil)

	req := httptest.NewRequest(http.MethodGet, diagnostics.StatusPath, nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d", rr.Code)
	}

	var snapshot diagnostics.Snapshot

	if err := jsoniter.NewDecoder(rr.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if len(snapshot.Exporters) != 1 || snapshot.Exporters[0].Endpoint != "http://collector:4317" {
		t.Fatalf("unexpected exporters %+v", snapshot.Exporters)
	}

	if snapshot.Exporters[0].LastError != "boom" || snapshot.Exporters[0].Exported != 12 {
		t.Fatalf("unexpected exporter status %+v", snapshot.Exporters[0])
	}

	if snapshot.Timestamp.IsZero() {
		t.Fatal("expected the server to stamp the snapshot")
	}
}

func TestHandleStatusAuth(t *testing.T) {
	t.Parallel()

	server := diagnostics.NewServer(config.DiagnosticsConfig{AuthToken: "secret"}, stubSnapshotProvider{}, nil)

	req := httptest.NewRequest(http.MethodGet, diagnostics.StatusPath, nil)
	rr := httptest.NewRecorder()

	server.HandleStatus(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when missing auth, got %d", rr.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, diagnostics.StatusPath, bytes.NewBuffer(nil))
	req2.Header.Set("Authorization", "Bearer secret")

	rr2 := httptest.NewRecorder()
	server.HandleStatus(rr2, req2)

	if rr2.Code != http.StatusOK {
		t.Fatalf("expected 200 with auth, got %d", rr2.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "otelpipe_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Add(3)

	tests := []struct {
		name     string
		provider diagnostics.SnapshotProvider
		want     int
	}{
		{"no gatherer support", stubSnapshotProvider{}, http.StatusNotFound},
		{"nil gatherer", stubGatheringProvider{}, http.StatusNotFound},
		{"registry", stubGatheringProvider{gatherer: registry}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := diagnostics.NewServer(config.DiagnosticsConfig{}, tt.provider, nil)
			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, diagnostics.MetricsPath, nil))

			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}

			if tt.want != http.StatusOK {
				return
			}

			body, _ := io.ReadAll(rr.Body)
			if !strings.Contains(string(body), "otelpipe_test_total 3") {
				t.Fatalf("metric missing from %s", body)
			}
		})
	}
}
