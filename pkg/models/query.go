package models

import (
	"github.com/cklose2000/eventlake/pkg/guard"
	"github.com/cklose2000/eventlake/pkg/planner"
)

// PlanRequest is the body for POST /api/v1/query/plan. Intent is natural
// language; hints optionally pin plan fields the caller already knows.
type PlanRequest struct {
	Intent string         `json:"intent"`
	Hints  map[string]any `json:"hints,omitempty"`
}

// PlanResponse carries either a validated plan or a clarification question,
// never both.
type PlanResponse struct {
	Plan          *planner.Plan          `json:"plan,omitempty"`
	Clarification *planner.Clarification `json:"clarification,omitempty"`
}

// ValidateRequest is the body for POST /api/v1/query/validate.
type ValidateRequest struct {
	Plan *planner.Plan `json:"plan"`
}

// ValidateResponse reports plan validity.
type ValidateResponse struct {
	Valid bool       `json:"valid"`
	Error *ErrorBody `json:"error,omitempty"`
}

// ExecuteRequest is the body for POST /api/v1/query/execute. Exactly one of
// Intent and Plan must be set; intents compile through the planner first.
type ExecuteRequest struct {
	Intent    string         `json:"intent,omitempty"`
	Plan      *planner.Plan  `json:"plan,omitempty"`
	ActorID   string         `json:"actor_id"`
	SessionID string         `json:"session_id,omitempty"`
	Hints     map[string]any `json:"hints,omitempty"`
}

// ExecuteResponse wraps the execution outcome.
type ExecuteResponse struct {
	*guard.Outcome
	SessionID string `json:"session_id"`
}

// SourceSummary describes one queryable source for GET /api/v1/sources.
type SourceSummary struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Columns    []string `json:"columns"`
	SampleData bool     `json:"sample_data,omitempty"`
}
