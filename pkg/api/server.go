// Package api exposes the HTTP surface of the event lake.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/cklose2000/eventlake/pkg/config"
	"github.com/cklose2000/eventlake/pkg/contract"
	"github.com/cklose2000/eventlake/pkg/dashboard"
	"github.com/cklose2000/eventlake/pkg/database"
	"github.com/cklose2000/eventlake/pkg/eventlog"
	"github.com/cklose2000/eventlake/pkg/guard"
	"github.com/cklose2000/eventlake/pkg/metrics"
	"github.com/cklose2000/eventlake/pkg/planner"
	"github.com/cklose2000/eventlake/pkg/services"
)

// Server is the HTTP server. Handlers are thin: binding, defaults and
// error mapping here, semantics in the underlying components.
type Server struct {
	cfg      *config.Config
	dbClient *database.Client
	eventLog *eventlog.Client
	composer *planner.Composer
	executor *guard.Executor
	factory  *dashboard.Factory
	sessions *services.SessionService
	sentinel *contract.Sentinel
	catalog  *contract.Catalog
	metrics  *metrics.Metrics

	echo       *echo.Echo
	httpServer *http.Server
}

// Dependencies carries the wired components into the server. Sentinel and
// Metrics may be nil in tests.
type Dependencies struct {
	DB       *database.Client
	EventLog *eventlog.Client
	Composer *planner.Composer
	Executor *guard.Executor
	Factory  *dashboard.Factory
	Sessions *services.SessionService
	Sentinel *contract.Sentinel
	Catalog  *contract.Catalog
	Metrics  *metrics.Metrics
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	s := &Server{
		cfg:      cfg,
		dbClient: deps.DB,
		eventLog: deps.EventLog,
		composer: deps.Composer,
		executor: deps.Executor,
		factory:  deps.Factory,
		sessions: deps.Sessions,
		sentinel: deps.Sentinel,
		catalog:  deps.Catalog,
		metrics:  deps.Metrics,
	}

	e := echo.New()
	e.Use(securityHeaders())
	e.Use(requestLogger())

	e.GET("/healthz", s.healthHandler)
	if s.metrics != nil {
		e.GET("/metrics", func(c *echo.Context) error {
			s.metrics.Handler().ServeHTTP(c.Response(), c.Request())
			return nil
		})
	}

	v1 := e.Group("/api/v1")
	v1.POST("/events", s.submitEventHandler)
	v1.POST("/events/batch", s.submitBatchHandler)

	v1.POST("/sessions/start", s.startSessionHandler)
	v1.POST("/sessions/:id/end", s.endSessionHandler)
	v1.GET("/sessions/:id/stats", s.sessionStatsHandler)

	v1.GET("/sources", s.listSourcesHandler)
	v1.GET("/sources/:name", s.describeSourceHandler)
	v1.POST("/query/plan", s.planQueryHandler)
	v1.POST("/query/validate", s.validateQueryHandler)
	v1.POST("/query/execute", s.executeQueryHandler)

	v1.POST("/dashboards", s.createDashboardHandler)
	v1.GET("/dashboards/:name", s.getDashboardHandler)
	v1.POST("/dashboards/:name/rollback", s.rollbackDashboardHandler)

	s.echo = e
	return s
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
