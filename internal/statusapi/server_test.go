package statusapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.Log = zerolog.Nop()
	if cfg.Port == 0 {
		cfg.Port = 0 // unused in tests; we call router directly via httptest
	}
	return New(cfg)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok"`)
}

func TestHandlePreflight_EmptyDataDirReturnsNoChecks(t *testing.T) {
	s := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/status/preflight", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"checks":[]`)
}

func TestHandlePreflight_RunsRealChecksWhenDataDirSet(t *testing.T) {
	s := newTestServer(t, Config{DataDir: t.TempDir()})
	req := httptest.NewRequest(http.MethodGet, "/status/preflight", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"exit_code"`)
}

func TestHandleRegime_UnavailableWithoutDetector(t *testing.T) {
	s := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/status/regime", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"available":false`)
}

func TestHandleFeaturePartitions_EmptyFeatureRootReturnsEmptyDates(t *testing.T) {
	s := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/status/features/trend", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"dates":[]`)
}

func TestHandleAttributionTail_NoIndexReturnsEmptyEvents(t *testing.T) {
	s := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/status/ledger/attribution/AAPL", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"symbol":"AAPL"`)
	require.Contains(t, rec.Body.String(), `"events":[]`)
}
