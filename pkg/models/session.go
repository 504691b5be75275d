package models

// StartSessionRequest is the body for POST /api/v1/sessions/start.
type StartSessionRequest struct {
	ActorID    string         `json:"actor_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// StartSessionResponse returns the minted session id.
type StartSessionResponse struct {
	SessionID string `json:"session_id"`
}

// EndSessionRequest is the body for POST /api/v1/sessions/:id/end.
type EndSessionRequest struct {
	ActorID string `json:"actor_id"`
}

// EndSessionResponse acknowledges the end event.
type EndSessionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}
