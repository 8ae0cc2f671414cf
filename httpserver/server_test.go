package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/social-recovery-backend/api"
	"github.com/ruteri/social-recovery-backend/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingAPI struct{}

func (pingAPI) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/ping/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func newTestServer(t *testing.T, collector *metrics.Collector) *Server {
	t.Helper()

	cfg := &api.HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		MetricsAddr:              "127.0.0.1:0",
		Log:                      slog.New(slog.NewTextHandler(io.Discard, nil)),
		EnablePprof:              true,
		GracefulShutdownDuration: time.Second,
	}
	srv, err := New(cfg, pingAPI{}, collector)
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestNewRequiresHandler(t *testing.T) {
	_, err := New(&api.HTTPServerConfig{Log: slog.New(slog.NewTextHandler(io.Discard, nil))}, nil, nil)
	assert.Error(t, err)
}

func TestDrainAndUndrain(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Handler()

	rr := get(t, h, "/livez")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rr.Body.String())

	assert.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)

	rr = get(t, h, "/drain")
	assert.JSONEq(t, `{"status":"draining"}`, rr.Body.String())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz").Code)
	assert.JSONEq(t, `{"status":"already draining"}`, get(t, h, "/drain").Body.String())

	// liveness is unaffected by draining
	assert.Equal(t, http.StatusOK, get(t, h, "/livez").Code)

	rr = get(t, h, "/undrain")
	assert.JSONEq(t, `{"status":"ready"}`, rr.Body.String())
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)
	assert.JSONEq(t, `{"status":"already ready"}`, get(t, h, "/undrain").Body.String())
}

func TestRoutesAndMetrics(t *testing.T) {
	collector := metrics.NewCollector()
	srv := newTestServer(t, collector)
	h := srv.Handler()

	assert.Equal(t, http.StatusNoContent, get(t, h, "/api/v1/ping/1").Code)
	assert.Equal(t, http.StatusNoContent, get(t, h, "/api/v1/ping/2").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/missing").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/debug/pprof/").Code)

	// both pings share one route label
	scrape := get(t, collector.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, scrape.Code)
	assert.Contains(t, scrape.Body.String(),
		`social_recovery_relay_request_duration_seconds_count{code="204",method="GET",route="/api/v1/ping/{id}"} 2`)
	require.NotNil(t, srv.metricsSrv)
}

func TestShutdownWithoutStart(t *testing.T) {
	srv := newTestServer(t, metrics.NewCollector())
	srv.Shutdown()
	assert.False(t, srv.isReady.Load())
}
