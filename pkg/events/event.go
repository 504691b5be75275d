// Package events defines the event model: the single first-class write in
// the system. Every piece of state, from permissions to dashboard versions
// to telemetry, is an event landed in the append-only landing table
// and read back through the derived projection.
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source identifies the producer class of an event.
type Source string

// Known event sources.
const (
	SourceClaudeCode  Source = "CLAUDE_CODE"
	SourceSystem      Source = "SYSTEM"
	SourceApplication Source = "APPLICATION"
	SourceTest        Source = "TEST"
)

// ObjectRef points at the subject of an event.
type ObjectRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Event is the only first-class write in the system. Events are immutable;
// corrections are new events with a *.corrected action.
type Event struct {
	EventID        string         `json:"event_id"`
	OccurredAt     time.Time      `json:"occurred_at"`
	IngestedAt     time.Time      `json:"ingested_at,omitempty"`
	ActorID        string         `json:"actor_id"`
	Action         string         `json:"action"`
	Object         *ObjectRef     `json:"object,omitempty"`
	Source         Source         `json:"source"`
	SessionID      string         `json:"session_id"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	Lane           string         `json:"_lane,omitempty"`
}

// New builds an event with a fresh event_id and occurred_at set to now.
// The idempotency key is left blank; callers that care about dedup call
// EnsureIdempotencyKey (the event log client does this for every emit).
func New(action, sessionID, actorID string, attrs map[string]any) *Event {
	return &Event{
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		ActorID:    actorID,
		Action:     action,
		Source:     SourceApplication,
		SessionID:  sessionID,
		Attributes: attrs,
	}
}

// EnsureIdempotencyKey computes the deterministic idempotency key if one is
// not already set. Two events with the same action, session, origin time and
// canonicalized attributes are semantically one event.
func (e *Event) EnsureIdempotencyKey() error {
	if e.IdempotencyKey != "" {
		return nil
	}
	attrs, err := CanonicalJSON(e.Attributes)
	if err != nil {
		return fmt.Errorf("failed to canonicalize attributes: %w", err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|", e.Action, e.SessionID, e.OccurredAt.UTC().Format(time.RFC3339Nano))
	h.Write(attrs)
	e.IdempotencyKey = hex.EncodeToString(h.Sum(nil))
	return nil
}

// WireSize returns the serialized size of the event in bytes.
func (e *Event) WireSize() (int, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}
	return len(data), nil
}

// WireMap returns the event as a generic JSON object, the shape the
// landing procedure accepts.
func (e *Event) WireMap() (map[string]any, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to rebuild event object: %w", err)
	}
	return m, nil
}

// Recorder accepts events without surfacing delivery errors to the caller.
// The event log client implements it; components that record outcomes
// (executor, dashboard factory, sentinel) depend on this interface rather
// than on the client so tests can capture events in memory.
type Recorder interface {
	Record(e *Event)
}

// PermissionGranted builds a system.permission.granted event carrying the
// caller's budget caps. Budgets are resolved from the latest such event.
func PermissionGranted(actorID, grantedBy string, maxRows int, maxRuntimeS int, maxBytes int64) *Event {
	// The grantee rides in attributes as well as the object ref because the
	// projection view only exposes attributes.
	e := New(ActionPermissionGranted, "admin", grantedBy, map[string]any{
		"grantee":       actorID,
		"max_rows":      maxRows,
		"max_runtime_s": maxRuntimeS,
		"max_bytes":     maxBytes,
	})
	e.Source = SourceSystem
	e.Object = &ObjectRef{Type: "user", ID: actorID}
	return e
}
