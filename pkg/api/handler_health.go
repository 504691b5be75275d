package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/cklose2000/eventlake/pkg/database"
	"github.com/cklose2000/eventlake/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// HealthCheck is one component's state in the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// healthHandler handles GET /healthz. Database connectivity is the hard
// dependency; contract drift degrades rather than fails because event
// emission keeps working while queries are suspended.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.dbClient != nil {
		if _, err := database.Health(reqCtx, s.dbClient.DB()); err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	if s.sentinel != nil {
		switch {
		case s.sentinel.Blocking():
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["contract"] = HealthCheck{Status: healthStatusDegraded, Message: "contract drift detected, queries suspended"}
		case s.sentinel.Drifted():
			checks["contract"] = HealthCheck{Status: healthStatusDegraded, Message: "contract drift detected"}
		default:
			checks["contract"] = HealthCheck{Status: healthStatusHealthy}
		}
		if s.metrics != nil {
			if s.sentinel.Blocking() {
				s.metrics.ContractDrift.Set(1)
			} else {
				s.metrics.ContractDrift.Set(0)
			}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
