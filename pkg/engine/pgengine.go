package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG implements Engine against a PostgreSQL execution engine. Stages are
// backed by a local directory (the engine's internal stage); registered
// apps are manifests written under the APPS stage prefix.
type PG struct {
	db       *sql.DB
	stageDir string

	mu      sync.RWMutex
	session Session
}

// NewPG wraps an open database handle. The connection is verified with
// exponential backoff and jitter, capped at 30 seconds per attempt.
func NewPG(ctx context.Context, db *sql.DB, stageDir string) (*PG, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 2 * time.Minute

	ping := func() error { return db.PingContext(ctx) }
	if err := backoff.Retry(ping, backoff.WithContext(policy, ctx)); err != nil {
		return nil, NewError(KindTransient, "connect", err)
	}

	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, NewError(KindPermanent, "stage_init", err)
	}
	return &PG{db: db, stageDir: stageDir}, nil
}

// Exec runs a statement and collects rows plus execution metadata.
func (e *PG) Exec(ctx context.Context, sqlText string, binds []any) (*Result, error) {
	start := time.Now()
	rows, err := e.db.QueryContext(ctx, sqlText, binds...)
	if err != nil {
		return nil, classify("exec", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classify("exec", err)
	}

	result := &Result{Columns: cols}
	var bytesScanned int64
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify("exec", err)
		}
		for i, v := range values {
			// Normalize driver byte slices so results JSON-encode cleanly.
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
				bytesScanned += int64(len(b))
			} else {
				bytesScanned += int64(len(fmt.Sprint(v)))
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("exec", err)
	}

	result.Metadata = Metadata{
		QueryID:      uuid.NewString(),
		RowsScanned:  int64(len(result.Rows)),
		BytesScanned: bytesScanned,
		ElapsedMS:    time.Since(start).Milliseconds(),
	}
	return result, nil
}

// ProcLogEvents is the single stored procedure that writes to the landing
// table. There is exactly one write path; direct inserts are rejected by
// the invariant gate.
const ProcLogEvents = "LANDING.LOG_EVENTS"

// Call invokes a stored procedure. The PG implementation supports the
// landing write procedure; unknown procedures fail with NotFound.
func (e *PG) Call(ctx context.Context, proc string, args ...any) (any, error) {
	switch strings.ToUpper(proc) {
	case ProcLogEvents:
		if len(args) != 1 {
			return nil, NewError(KindPermanent, "call", fmt.Errorf("%s expects 1 arg, got %d", proc, len(args)))
		}
		return e.logEvents(ctx, args[0])
	default:
		return nil, NewError(KindNotFound, "call", fmt.Errorf("unknown procedure %q", proc))
	}
}

// logEvents lands a JSON array of event objects. Landing is append-only:
// duplicates by idempotency key are allowed here and collapsed by the
// projection view.
func (e *PG) logEvents(ctx context.Context, payload any) (any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, NewError(KindPermanent, "call", fmt.Errorf("failed to marshal events payload: %w", err))
	}
	var batch []map[string]any
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, NewError(KindPermanent, "call", fmt.Errorf("events payload is not an array of objects: %w", err))
	}

	const insert = `INSERT INTO LANDING.EVENTS
		(EVENT_ID, OCCURRED_AT, INGESTED_AT, ACTOR_ID, ACTION, OBJECT_TYPE, OBJECT_ID,
		 SOURCE, SESSION_ID, IDEMPOTENCY_KEY, ATTRIBUTES, LANE)
		VALUES ($1, $2, NOW(), $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	accepted := 0
	for _, ev := range batch {
		var objType, objID any
		if obj, ok := ev["object"].(map[string]any); ok {
			objType, objID = obj["type"], obj["id"]
		}
		attrs, err := json.Marshal(ev["attributes"])
		if err != nil {
			return nil, NewError(KindPermanent, "call", fmt.Errorf("failed to marshal attributes: %w", err))
		}
		_, err = e.db.ExecContext(ctx, insert,
			ev["event_id"], ev["occurred_at"], ev["actor_id"], ev["action"],
			objType, objID, ev["source"], ev["session_id"], ev["idempotency_key"],
			string(attrs), ev["_lane"])
		if err != nil {
			return nil, classify("call", err)
		}
		accepted++
	}
	return map[string]any{"accepted": accepted}, nil
}

// PutStage writes bytes to a stage path. Stage paths look like
// @DASH_APPS/name/hash/manifest.json.
func (e *PG) PutStage(ctx context.Context, path string, data []byte) error {
	full, err := e.stagePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return NewError(KindPermanent, "put_stage", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return NewError(KindPermanent, "put_stage", err)
	}
	return nil
}

// GetStage reads a stage file.
func (e *PG) GetStage(ctx context.Context, path string) ([]byte, error) {
	full, err := e.stagePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewError(KindNotFound, "get_stage", err)
		}
		return nil, NewError(KindPermanent, "get_stage", err)
	}
	return data, nil
}

// ListStage lists stage paths under a prefix, in lexicographic order.
func (e *PG) ListStage(ctx context.Context, prefix string) ([]string, error) {
	root, err := e.stagePath(prefix)
	if err != nil {
		return nil, err
	}
	var paths []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(e.stageDir, p)
		if err != nil {
			return err
		}
		paths = append(paths, "@"+filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, NewError(KindPermanent, "list_stage", err)
	}
	return paths, nil
}

// RemoveStage deletes stage files under a prefix.
func (e *PG) RemoveStage(ctx context.Context, prefix string) error {
	full, err := e.stagePath(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(full); err != nil {
		return NewError(KindPermanent, "remove_stage", err)
	}
	return nil
}

// CreateOrReplaceApp registers a rendered application manifest.
func (e *PG) CreateOrReplaceApp(ctx context.Context, name string, manifest []byte) error {
	return e.PutStage(ctx, "@APPS/"+name+"/manifest.json", manifest)
}

// SetSession records the session context applied to subsequent calls. The
// query tag is also asserted as the backend application_name so audit
// queries over pg_stat_activity can parse it.
func (e *PG) SetSession(ctx context.Context, s Session) error {
	e.mu.Lock()
	e.session = s
	e.mu.Unlock()
	if s.QueryTag != "" {
		_, err := e.db.ExecContext(ctx,
			"SELECT set_config('application_name', $1, false)", s.QueryTag)
		if err != nil {
			return classify("set_session", err)
		}
	}
	return nil
}

// CurrentSession returns the most recently set session context.
func (e *PG) CurrentSession() Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session
}

func (e *PG) stagePath(path string) (string, error) {
	trimmed := strings.TrimPrefix(path, "@")
	clean := filepath.Clean(filepath.FromSlash(trimmed))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", NewError(KindPermanent, "stage_path", fmt.Errorf("stage path %q escapes stage root", path))
	}
	return filepath.Join(e.stageDir, clean), nil
}

// classify maps driver errors onto the engine error taxonomy.
func classify(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(KindTimeout, op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "57014": // query_canceled
			return NewError(KindTimeout, op, err)
		case pgErr.Code == "42501": // insufficient_privilege
			return NewError(KindPermission, op, err)
		case pgErr.Code == "42P01" || pgErr.Code == "42703": // undefined table / column
			return NewError(KindNotFound, op, err)
		case strings.HasPrefix(pgErr.Code, "08"): // connection errors
			return NewError(KindTransient, op, err)
		case strings.HasPrefix(pgErr.Code, "53"): // insufficient resources
			return NewError(KindTransient, op, err)
		}
		return NewError(KindPermanent, op, err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return NewError(KindTransient, op, err)
	}
	return NewError(KindPermanent, op, err)
}
