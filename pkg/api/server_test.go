package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/cklose2000/eventlake/pkg/config"
	"github.com/cklose2000/eventlake/pkg/contract"
	"github.com/cklose2000/eventlake/pkg/dashboard"
	"github.com/cklose2000/eventlake/pkg/engine/enginetest"
	"github.com/cklose2000/eventlake/pkg/eventlog"
	"github.com/cklose2000/eventlake/pkg/guard"
	"github.com/cklose2000/eventlake/pkg/metrics"
	"github.com/cklose2000/eventlake/pkg/planner"
	"github.com/cklose2000/eventlake/pkg/redact"
	"github.com/cklose2000/eventlake/pkg/services"
)

// testHarness bundles the server with the fakes behind it.
type testHarness struct {
	server *Server
	fake   *enginetest.Fake
	log    *eventlog.Client
	dbMock sqlmock.Sqlmock
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	catalog, err := contract.Load()
	require.NoError(t, err)

	fake := enginetest.New()

	log, err := eventlog.NewClient(fake, redact.NewService(nil), eventlog.Config{
		SpoolDir: t.TempDir(),
	})
	require.NoError(t, err)
	require.NoError(t, log.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = log.Shutdown(ctx)
	})

	composer := planner.NewComposer(nil, planner.NewRegexCompiler(catalog), planner.NewValidator(catalog))
	executor := guard.NewExecutor(fake, catalog, nil, nil, log, guard.Config{
		Service: "eventlake-test", Env: "test", GitSHA: "deadbeef",
	})

	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sdb := sqlx.NewDb(db, "sqlmock")

	sessions := services.NewSessionService(sdb, log)
	versions := services.NewVersionService(sdb)
	factory := dashboard.NewFactory(fake, catalog, versions, log, time.Minute)

	cfg := &config.Config{
		Server:     &config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Deployment: &config.DeploymentConfig{Service: "eventlake-test", Env: "test"},
	}

	server := NewServer(cfg, Dependencies{
		EventLog: log,
		Composer: composer,
		Executor: executor,
		Factory:  factory,
		Sessions: sessions,
		Catalog:  catalog,
		Metrics:  metrics.New(),
	})

	return &testHarness{server: server, fake: fake, log: log, dbMock: dbMock}
}

func (h *testHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.server.Echo().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSecurityHeaders(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodGet, "/api/v1/sources", nil)
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
