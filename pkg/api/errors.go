package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/cklose2000/eventlake/pkg/apperr"
	"github.com/cklose2000/eventlake/pkg/engine"
	"github.com/cklose2000/eventlake/pkg/models"
	"github.com/cklose2000/eventlake/pkg/planner"
	"github.com/cklose2000/eventlake/pkg/services"
)

// errorBody converts an error into the uniform wire shape. Errors without a
// kind are reported as permanent engine failures.
func errorBody(err error) *models.ErrorBody {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return &models.ErrorBody{
			Kind:        string(appErr.Kind),
			Message:     appErr.Message,
			Remediation: appErr.Remediation,
		}
	}
	var planErr *planner.PlanError
	if errors.As(err, &planErr) {
		return &models.ErrorBody{
			Kind:        string(apperr.Plan),
			Message:     planErr.Error(),
			Remediation: "adjust the plan to the declared sources and columns",
		}
	}
	return &models.ErrorBody{
		Kind:    string(apperr.EnginePermanent),
		Message: err.Error(),
	}
}

// statusForKind maps error kinds to HTTP status codes. Backpressure and open
// circuits are retryable, so they surface as 429; drift as 503 because the
// whole query surface is suspended, not just this request.
func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation, apperr.Plan:
		return http.StatusBadRequest
	case apperr.Permission:
		return http.StatusForbidden
	case apperr.Budget:
		return http.StatusRequestEntityTooLarge
	case apperr.Backpressure, apperr.CircuitOpen:
		return http.StatusTooManyRequests
	case apperr.ContractDrift:
		return http.StatusServiceUnavailable
	case apperr.EngineTransient:
		return http.StatusServiceUnavailable
	case apperr.Invariant, apperr.EnginePermanent:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders any component error as JSON. Engine not-found errors
// from dashboard reads become 404 rather than leaking engine detail.
func writeError(c *echo.Context, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return c.JSON(statusForKind(appErr.Kind), errorBody(err))
	}
	var planErr *planner.PlanError
	if errors.As(err, &planErr) {
		return c.JSON(http.StatusBadRequest, errorBody(err))
	}
	if engine.KindOf(err) == engine.KindNotFound {
		return c.JSON(http.StatusNotFound, &models.ErrorBody{
			Kind:    string(apperr.Validation),
			Message: "resource not found",
		})
	}
	slog.Error("Unexpected handler error", "error", err)
	return c.JSON(http.StatusInternalServerError, errorBody(err))
}

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}

	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
