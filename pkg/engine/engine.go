// Package engine is the single surface to the analytical warehouse. The
// warehouse itself is opaque: an append-only table, derived views, stages,
// scheduled tasks and role-scoped procedures. Everything the rest of the
// system needs is expressed through the Engine capability set.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// Metadata describes a completed statement execution.
type Metadata struct {
	QueryID      string `json:"query_id"`
	RowsScanned  int64  `json:"rows_scanned"`
	BytesScanned int64  `json:"bytes_scanned"`
	ElapsedMS    int64  `json:"elapsed_ms"`
}

// Result holds rows plus execution metadata from Exec.
type Result struct {
	Columns  []string
	Rows     [][]any
	Metadata Metadata
}

// Session carries the context set before every request. QueryTag is a JSON
// document parsed downstream for cost and latency attribution.
type Session struct {
	Role      string
	Warehouse string
	Database  string
	Schema    string
	QueryTag  string
}

// Engine is the capability set exposed by the execution engine. All methods
// are blocking and honor ctx deadlines; on deadline the implementation
// issues a statement cancel.
type Engine interface {
	// Exec runs a statement with bound parameters.
	Exec(ctx context.Context, sql string, binds []any) (*Result, error)

	// Call invokes a stored procedure with structured args.
	Call(ctx context.Context, proc string, args ...any) (any, error)

	// PutStage writes bytes to a stage path (e.g. @DASH_APPS/name/hash/manifest.json).
	PutStage(ctx context.Context, path string, data []byte) error

	// GetStage reads a stage file.
	GetStage(ctx context.Context, path string) ([]byte, error)

	// ListStage lists stage paths under a prefix.
	ListStage(ctx context.Context, prefix string) ([]string, error)

	// RemoveStage deletes stage files under a prefix. Used only by the
	// dashboard factory's compensation path; published artifact trees are
	// immutable.
	RemoveStage(ctx context.Context, prefix string) error

	// CreateOrReplaceApp registers a rendered application against a stage path.
	CreateOrReplaceApp(ctx context.Context, name string, manifest []byte) error

	// SetSession establishes role, warehouse and query tag for subsequent calls.
	SetSession(ctx context.Context, s Session) error
}

// QueryTag is the structured session tag attached to every statement.
type QueryTag struct {
	Service       string `json:"service"`
	Env           string `json:"env"`
	GitSHA        string `json:"git_sha"`
	PlanHash      string `json:"plan_hash,omitempty"`
	DashboardHash string `json:"dashboard_hash,omitempty"`
	Caller        string `json:"caller"`
	SessionID     string `json:"session_id"`
	CreatedAt     string `json:"created_at"`
}

// Encode serializes the tag for Session.QueryTag.
func (t QueryTag) Encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to marshal query tag: %w", err)
	}
	return string(data), nil
}
