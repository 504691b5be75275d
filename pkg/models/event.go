// Package models holds the shared HTTP request and response shapes.
package models

import (
	"encoding/json"
	"time"

	"github.com/cklose2000/eventlake/pkg/events"
)

// SubmitEventRequest is the body for POST /api/v1/events and each element
// of a batch submission.
type SubmitEventRequest struct {
	Action         string            `json:"action"`
	SessionID      string            `json:"session_id"`
	ActorID        string            `json:"actor_id,omitempty"`
	OccurredAt     *time.Time        `json:"occurred_at,omitempty"`
	Object         *events.ObjectRef `json:"object,omitempty"`
	Attributes     map[string]any    `json:"attributes,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Source         string            `json:"source,omitempty"`
	Lane           string            `json:"_lane,omitempty"`
}

// knownEventKeys are the top-level keys the request model owns. Anything
// else in the body is folded into Attributes on unmarshal.
var knownEventKeys = []string{
	"action", "session_id", "actor_id", "occurred_at", "object",
	"attributes", "idempotency_key", "source", "_lane",
}

// UnmarshalJSON preserves unrecognized top-level keys by folding them into
// Attributes, so producers can attach extra fields without losing them.
func (r *SubmitEventRequest) UnmarshalJSON(data []byte) error {
	type plain SubmitEventRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownEventKeys {
		delete(raw, k)
	}
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if p.Attributes == nil {
			p.Attributes = make(map[string]any)
		}
		p.Attributes[k] = val
	}
	*r = SubmitEventRequest(p)
	return nil
}

// Event converts the request into a domain event. Missing fields are
// filled by the event log client at emit time.
func (r *SubmitEventRequest) Event() *events.Event {
	e := events.New(r.Action, r.SessionID, r.ActorID, r.Attributes)
	if r.OccurredAt != nil {
		e.OccurredAt = r.OccurredAt.UTC()
	}
	e.Object = r.Object
	e.IdempotencyKey = r.IdempotencyKey
	e.Lane = r.Lane
	if r.Source != "" {
		e.Source = events.Source(r.Source)
	}
	return e
}

// EventAck reports per-event acceptance. Event submission endpoints always
// return 200; rejections surface here, not as transport errors.
type EventAck struct {
	EventID  string     `json:"event_id,omitempty"`
	Accepted bool       `json:"accepted"`
	Error    *ErrorBody `json:"error,omitempty"`
}

// BatchSubmitRequest is the body for POST /api/v1/events/batch.
type BatchSubmitRequest struct {
	Events []SubmitEventRequest `json:"events"`
}

// BatchSubmitResponse reports batch acceptance.
type BatchSubmitResponse struct {
	Accepted int        `json:"accepted"`
	Results  []EventAck `json:"results"`
}
