package api

import (
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/cklose2000/eventlake/pkg/dashboard"
	"github.com/cklose2000/eventlake/pkg/models"
)

// defaultSchedule applies when a conversation request carries no schedule.
var defaultSchedule = dashboard.Schedule{Mode: dashboard.ModeExact, CronUTC: "0 * * * *"}

// createDashboardHandler handles POST /api/v1/dashboards. A request carries
// either a full spec or a natural-language conversation.
func (s *Server) createDashboardHandler(c *echo.Context) error {
	var req models.CreateDashboardRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if (req.Conversation == "") == (req.Spec == nil) {
		return echo.NewHTTPError(http.StatusBadRequest, "exactly one of conversation and spec is required")
	}
	if req.ActorID == "" {
		req.ActorID = extractActor(c)
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	var (
		manifest *dashboard.Manifest
		err      error
	)
	if req.Spec != nil {
		manifest, err = s.factory.Publish(c.Request().Context(), req.ActorID, req.SessionID, req.Spec)
	} else {
		if req.Name == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "name field is required for conversation requests")
		}
		schedule := defaultSchedule
		if req.Schedule != nil {
			schedule = *req.Schedule
		}
		manifest, err = s.factory.CreateFromConversation(c.Request().Context(),
			req.ActorID, req.SessionID, req.Name, req.Conversation, schedule)
	}
	s.countDashboardOp("publish", err)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusCreated, &models.DashboardResponse{
		Name:      manifest.Name,
		Hash:      manifest.Hash,
		StagePath: dashboard.StagePrefix + "/" + manifest.Name + "/" + manifest.Hash,
		Manifest:  manifest,
	})
}

// getDashboardHandler handles GET /api/v1/dashboards/:name.
func (s *Server) getDashboardHandler(c *echo.Context) error {
	name := c.Param("name")
	manifest, err := s.factory.Manifest(c.Request().Context(), name)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, &models.DashboardResponse{
		Name:     manifest.Name,
		Hash:     manifest.Hash,
		Manifest: manifest,
	})
}

// rollbackDashboardHandler handles POST /api/v1/dashboards/:name/rollback.
func (s *Server) rollbackDashboardHandler(c *echo.Context) error {
	name := c.Param("name")
	var req models.RollbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ActorID == "" {
		req.ActorID = extractActor(c)
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	manifest, err := s.factory.Rollback(c.Request().Context(), req.ActorID, req.SessionID, name)
	s.countDashboardOp("rollback", err)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, &models.DashboardResponse{
		Name:     manifest.Name,
		Hash:     manifest.Hash,
		Manifest: manifest,
	})
}

func (s *Server) countDashboardOp(operation string, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.metrics.DashboardOps.WithLabelValues(operation, result).Inc()
}
