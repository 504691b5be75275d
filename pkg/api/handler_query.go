package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/cklose2000/eventlake/pkg/apperr"
	"github.com/cklose2000/eventlake/pkg/guard"
	"github.com/cklose2000/eventlake/pkg/models"
	"github.com/cklose2000/eventlake/pkg/planner"
)

// listSourcesHandler handles GET /api/v1/sources.
func (s *Server) listSourcesHandler(c *echo.Context) error {
	out := make([]models.SourceSummary, 0, len(s.catalog.Sources))
	for _, src := range s.catalog.Sources {
		out = append(out, models.SourceSummary{
			Name:       src.Name,
			Type:       src.Type,
			Columns:    src.Columns,
			SampleData: src.SampleData,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// describeSourceHandler handles GET /api/v1/sources/:name.
func (s *Server) describeSourceHandler(c *echo.Context) error {
	src, ok := s.catalog.Source(c.Param("name"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown source")
	}
	return c.JSON(http.StatusOK, models.SourceSummary{
		Name:       src.Name,
		Type:       src.Type,
		Columns:    src.Columns,
		SampleData: src.SampleData,
	})
}

// planQueryHandler handles POST /api/v1/query/plan. Compiles natural
// language into a validated plan, or a clarification question.
func (s *Server) planQueryHandler(c *echo.Context) error {
	var req models.PlanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Intent) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent field is required")
	}

	plan, clarification, err := s.composer.Compose(c.Request().Context(), req.Intent, req.Hints)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, &models.PlanResponse{Plan: plan, Clarification: clarification})
}

// validateQueryHandler handles POST /api/v1/query/validate.
func (s *Server) validateQueryHandler(c *echo.Context) error {
	var req models.ValidateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Plan == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "plan field is required")
	}

	if err := s.composer.Validate(req.Plan); err != nil {
		return c.JSON(http.StatusOK, &models.ValidateResponse{Valid: false, Error: errorBody(err)})
	}
	return c.JSON(http.StatusOK, &models.ValidateResponse{Valid: true})
}

// executeQueryHandler handles POST /api/v1/query/execute. Intents compile
// through the planner; pre-built plans run as-is (the executor re-validates
// sources and budgets either way).
func (s *Server) executeQueryHandler(c *echo.Context) error {
	var req models.ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if (req.Intent == "") == (req.Plan == nil) {
		return echo.NewHTTPError(http.StatusBadRequest, "exactly one of intent and plan is required")
	}
	if req.ActorID == "" {
		req.ActorID = extractActor(c)
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	plan := req.Plan
	if req.Intent != "" {
		compiled, clarification, err := s.composer.Compose(c.Request().Context(), req.Intent, req.Hints)
		if err != nil {
			return writeError(c, err)
		}
		if clarification != nil {
			return c.JSON(http.StatusBadRequest, &models.ErrorBody{
				Kind:        string(apperr.Plan),
				Message:     clarification.Question,
				Remediation: "candidates: " + strings.Join(clarification.Candidates, ", "),
			})
		}
		plan = compiled
	}

	start := time.Now()
	outcome, err := s.executor.Execute(c.Request().Context(),
		guard.Caller{ActorID: req.ActorID, SessionID: req.SessionID}, plan)
	s.countQuery(plan, outcome, start, err)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, &models.ExecuteResponse{Outcome: outcome, SessionID: req.SessionID})
}

func (s *Server) countQuery(plan *planner.Plan, outcome *guard.Outcome, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	template := "unknown"
	result := "ok"
	if outcome != nil {
		template = outcome.Template
		s.metrics.QueryDuration.Observe(time.Since(start).Seconds())
		s.metrics.QueryRows.Observe(float64(outcome.RowCount))
	} else if plan != nil && plan.Template != "" {
		template = plan.Template
	}
	if err != nil {
		result = string(apperr.KindOf(err))
	}
	s.metrics.QueriesTotal.WithLabelValues(template, result).Inc()
}
