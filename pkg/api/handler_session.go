package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/cklose2000/eventlake/pkg/models"
)

// startSessionHandler handles POST /api/v1/sessions/start.
func (s *Server) startSessionHandler(c *echo.Context) error {
	var req models.StartSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ActorID == "" {
		req.ActorID = extractActor(c)
	}

	sessionID, err := s.sessions.StartSession(c.Request().Context(), req.ActorID, req.Attributes)
	if err != nil {
		return mapServiceError(err)
	}
	if s.metrics != nil {
		s.metrics.SessionsStarted.Inc()
	}
	return c.JSON(http.StatusOK, &models.StartSessionResponse{SessionID: sessionID})
}

// endSessionHandler handles POST /api/v1/sessions/:id/end.
func (s *Server) endSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req models.EndSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ActorID == "" {
		req.ActorID = extractActor(c)
	}

	if err := s.sessions.EndSession(c.Request().Context(), sessionID, req.ActorID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &models.EndSessionResponse{SessionID: sessionID, Status: "ended"})
}

// sessionStatsHandler handles GET /api/v1/sessions/:id/stats.
func (s *Server) sessionStatsHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	stats, err := s.sessions.GetSessionStats(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, stats)
}
