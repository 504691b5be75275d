package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklose2000/eventlake/pkg/engine"
	"github.com/cklose2000/eventlake/pkg/models"
	"github.com/cklose2000/eventlake/pkg/planner"
)

func TestSources(t *testing.T) {
	t.Run("lists every whitelisted source", func(t *testing.T) {
		h := newTestHarness(t)
		rec := h.do(t, http.MethodGet, "/api/v1/sources", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		sources := decode[[]models.SourceSummary](t, rec)
		names := make([]string, 0, len(sources))
		for _, s := range sources {
			names = append(names, s.Name)
		}
		assert.Contains(t, names, "ACTIVITY.EVENTS")
		assert.Contains(t, names, "SAMPLE.ORDERS")
	})

	t.Run("describes a source by bare name", func(t *testing.T) {
		h := newTestHarness(t)
		rec := h.do(t, http.MethodGet, "/api/v1/sources/vw_activity_counts_24h", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		src := decode[models.SourceSummary](t, rec)
		assert.Equal(t, "ACTIVITY.VW_ACTIVITY_COUNTS_24H", src.Name)
		assert.Contains(t, src.Columns, "EVENT_COUNT")
	})

	t.Run("unknown source is 404", func(t *testing.T) {
		h := newTestHarness(t)
		rec := h.do(t, http.MethodGet, "/api/v1/sources/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestPlanQuery(t *testing.T) {
	t.Run("compiles an intent into a validated plan", func(t *testing.T) {
		h := newTestHarness(t)
		rec := h.do(t, http.MethodPost, "/api/v1/query/plan", models.PlanRequest{
			Intent: "top 5 activities over the last 7 days",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[models.PlanResponse](t, rec)
		require.NotNil(t, resp.Plan)
		assert.Nil(t, resp.Clarification)
		assert.Equal(t, "ACTIVITY.VW_ACTIVITY_COUNTS_24H", resp.Plan.Source)
		require.NotNil(t, resp.Plan.TopN)
		assert.Equal(t, 5, *resp.Plan.TopN)
		require.NotNil(t, resp.Plan.Window)
		assert.Equal(t, 7, resp.Plan.Window.Days)
		require.NotEmpty(t, resp.Plan.Measures)
		assert.Equal(t, planner.FnSum, resp.Plan.Measures[0].Fn)
	})

	t.Run("vague intent yields a clarification", func(t *testing.T) {
		h := newTestHarness(t)
		rec := h.do(t, http.MethodPost, "/api/v1/query/plan", models.PlanRequest{
			Intent: "show me whatever",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[models.PlanResponse](t, rec)
		assert.Nil(t, resp.Plan)
		require.NotNil(t, resp.Clarification)
		assert.NotEmpty(t, resp.Clarification.Candidates)
	})

	t.Run("missing intent is a bad request", func(t *testing.T) {
		h := newTestHarness(t)
		rec := h.do(t, http.MethodPost, "/api/v1/query/plan", models.PlanRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestValidateQuery(t *testing.T) {
	h := newTestHarness(t)

	t.Run("valid plan", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/query/validate", models.ValidateRequest{
			Plan: &planner.Plan{
				Source:     "ACTIVITY.VW_ACTIVITY_COUNTS_24H",
				Dimensions: []string{"ACTIVITY"},
				Measures:   []planner.Measure{{Fn: planner.FnSum, Column: "EVENT_COUNT"}},
			},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[models.ValidateResponse](t, rec)
		assert.True(t, resp.Valid)
		assert.Nil(t, resp.Error)
	})

	t.Run("unknown column is reported in-band", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/query/validate", models.ValidateRequest{
			Plan: &planner.Plan{
				Source:     "ACTIVITY.VW_ACTIVITY_COUNTS_24H",
				Dimensions: []string{"NO_SUCH_COLUMN"},
			},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[models.ValidateResponse](t, rec)
		assert.False(t, resp.Valid)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "E_PLAN", resp.Error.Kind)
	})

	t.Run("missing plan is a bad request", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/query/validate", models.ValidateRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestExecuteQuery(t *testing.T) {
	countsPlan := func() *planner.Plan {
		return &planner.Plan{
			Source:     "ACTIVITY.VW_ACTIVITY_COUNTS_24H",
			Dimensions: []string{"ACTIVITY"},
			Measures:   []planner.Measure{{Fn: planner.FnSum, Column: "EVENT_COUNT"}},
		}
	}

	t.Run("runs an explicit plan", func(t *testing.T) {
		h := newTestHarness(t)
		h.fake.SetExecResult(&engine.Result{
			Columns: []string{"ACTIVITY", "SUM_EVENT_COUNT"},
			Rows:    [][]any{{"ccode.session.started", int64(42)}, {"dashboard.created", int64(7)}},
			Metadata: engine.Metadata{
				QueryID:      "q-test",
				BytesScanned: 2048,
				ElapsedMS:    12,
			},
		})

		rec := h.do(t, http.MethodPost, "/api/v1/query/execute", models.ExecuteRequest{
			Plan:    countsPlan(),
			ActorID: "analyst-7",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[models.ExecuteResponse](t, rec)
		require.NotNil(t, resp.Outcome)
		assert.Equal(t, 2, resp.RowCount)
		assert.Equal(t, "q-test", resp.QueryID)
		assert.EqualValues(t, 2048, resp.BytesScanned)
		assert.NotEmpty(t, resp.SessionID)
	})

	t.Run("compiles an intent before executing", func(t *testing.T) {
		h := newTestHarness(t)
		rec := h.do(t, http.MethodPost, "/api/v1/query/execute", models.ExecuteRequest{
			Intent:    "top 3 activities",
			ActorID:   "analyst-7",
			SessionID: "sess-intent",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[models.ExecuteResponse](t, rec)
		assert.Equal(t, "sess-intent", resp.SessionID)
	})

	t.Run("ambiguous intent returns the clarification as a plan error", func(t *testing.T) {
		h := newTestHarness(t)
		rec := h.do(t, http.MethodPost, "/api/v1/query/execute", models.ExecuteRequest{
			Intent:  "show me whatever",
			ActorID: "analyst-7",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decode[models.ErrorBody](t, rec)
		assert.Equal(t, "E_PLAN", body.Kind)
		assert.Contains(t, body.Remediation, "candidates")
	})

	t.Run("unknown source is rejected before the engine", func(t *testing.T) {
		h := newTestHarness(t)
		rec := h.do(t, http.MethodPost, "/api/v1/query/execute", models.ExecuteRequest{
			Plan:    &planner.Plan{Source: "LANDING.EVENTS"},
			ActorID: "analyst-7",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decode[models.ErrorBody](t, rec)
		assert.Equal(t, "E_PLAN", body.Kind)
		assert.Empty(t, h.fake.Execs)
	})

	t.Run("intent and plan together are rejected", func(t *testing.T) {
		h := newTestHarness(t)
		rec := h.do(t, http.MethodPost, "/api/v1/query/execute", models.ExecuteRequest{
			Intent:  "top 3 activities",
			Plan:    countsPlan(),
			ActorID: "analyst-7",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
