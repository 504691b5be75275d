package models

import (
	"github.com/cklose2000/eventlake/pkg/dashboard"
)

// CreateDashboardRequest is the body for POST /api/v1/dashboards. Exactly
// one of Conversation and Spec must be set: conversations go through the
// analyzer, specs publish directly.
type CreateDashboardRequest struct {
	Name         string              `json:"name,omitempty"`
	Conversation string              `json:"conversation,omitempty"`
	Spec         *dashboard.Spec     `json:"spec,omitempty"`
	Schedule     *dashboard.Schedule `json:"schedule,omitempty"`
	ActorID      string              `json:"actor_id"`
	SessionID    string              `json:"session_id,omitempty"`
}

// DashboardResponse is returned by publish, rollback and read endpoints.
type DashboardResponse struct {
	Name      string              `json:"name"`
	Hash      string              `json:"hash"`
	StagePath string              `json:"stage_path,omitempty"`
	Manifest  *dashboard.Manifest `json:"manifest,omitempty"`
}

// RollbackRequest is the body for POST /api/v1/dashboards/:name/rollback.
type RollbackRequest struct {
	ActorID   string `json:"actor_id"`
	SessionID string `json:"session_id,omitempty"`
}
