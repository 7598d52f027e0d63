package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cfg *HTTPServerConfig) *Server {
	t.Helper()
	cfg.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.DrainDuration = time.Millisecond
	srv, err := New(cfg)
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return rr.Code, body
}

func TestServer_DrainCycle(t *testing.T) {
	h := newTestServer(t, &HTTPServerConfig{}).Handler()

	code, body := get(t, h, "/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", body["status"])

	code, _ = get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)

	_, body = get(t, h, "/drain")
	assert.Equal(t, "draining", body["status"])
	_, body = get(t, h, "/drain")
	assert.Equal(t, "already draining", body["status"])

	code, _ = get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = get(t, h, "/livez")
	assert.Equal(t, http.StatusOK, code, "Draining does not affect liveness")

	_, body = get(t, h, "/undrain")
	assert.Equal(t, "ready", body["status"])
	_, body = get(t, h, "/undrain")
	assert.Equal(t, "already ready", body["status"])
	code, _ = get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_ReadinessProbe(t *testing.T) {
	probeErr := errors.New("storage backend unavailable")
	var fail bool
	h := newTestServer(t, &HTTPServerConfig{
		Ready: func(context.Context) error {
			if fail {
				return probeErr
			}
			return nil
		},
	}).Handler()

	code, _ := get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)

	fail = true
	code, body := get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, probeErr.Error(), body["reason"])
}

func TestServer_Status(t *testing.T) {
	h := newTestServer(t, &HTTPServerConfig{
		Status: func() any { return map[string]int{"sessions": 3} },
	}).Handler()

	code, body := get(t, h, "/status")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, body["sessions"])
}

func TestServer_PprofDisabledByDefault(t *testing.T) {
	h := newTestServer(t, &HTTPServerConfig{}).Handler()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
