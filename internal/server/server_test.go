package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signagekit/transferd/internal/config"
	"github.com/signagekit/transferd/internal/server/handlers"
	"github.com/signagekit/transferd/internal/server/middleware"
	"github.com/signagekit/transferd/pkg/assembler"
	"github.com/signagekit/transferd/pkg/jobstore"
)

type noopSubmitter struct{}

func (noopSubmitter) Submit(url, quality string) (*jobstore.Job, error) {
	return &jobstore.Job{ID: "stub", Status: jobstore.StatusPending}, nil
}

type noopCanceller struct{}

func (noopCanceller) Cancel(jobID string) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()
	storeRoot := filepath.Join(root, "jobs")
	store, err := jobstore.NewStore(storeRoot)
	require.NoError(t, err)

	mediaDir := filepath.Join(root, "media")
	require.NoError(t, os.MkdirAll(mediaDir, 0755))
	asm := assembler.New(store, filepath.Join(root, "scratch"), mediaDir, nil, nil)

	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = time.Second

	deps := Deps{
		Jobs: handlers.NewJobsHandler(store, asm, noopSubmitter{}, noopCanceller{}, nil),
		// "sh" stands in for the downloader binary: the checker only
		// verifies PATH resolution.
		Health:  NewHealthManager("test", storeRoot, "sh"),
		Version: handlers.VersionInfo{Version: "test", Commit: "none", BuildDate: "today"},
	}
	return New(cfg, deps, nil)
}

func TestServer_UnknownRouteReturnsEnvelope(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body middleware.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/version", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var body middleware.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "METHOD_NOT_ALLOWED", body.Error.Code)
}

func TestServer_RoutesRegistered(t *testing.T) {
	srv := newTestServer(t)

	endpoints := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/health", http.StatusOK},
		{"GET", "/version", http.StatusOK},
		{"GET", "/jobs", http.StatusOK},
		{"GET", "/jobs/unknown", http.StatusNotFound},
		{"DELETE", "/jobs/unknown", http.StatusNotFound},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			assert.Equal(t, ep.want, rec.Code, "endpoint %s %s", ep.method, ep.path)
		})
	}
}

func TestServer_Port(t *testing.T) {
	srv := newTestServer(t)
	assert.Equal(t, 0, srv.Port())
	assert.NotNil(t, srv.Handler())
}
