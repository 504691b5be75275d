// Package guard executes validated query plans against the engine under
// per-caller budgets. Only SafeSQL templates produce statement text; the
// invariant gate screens anything DDL-ish; every execution is tagged and its
// outcome recorded as an event.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cklose2000/eventlake/pkg/apperr"
	"github.com/cklose2000/eventlake/pkg/contract"
	"github.com/cklose2000/eventlake/pkg/engine"
	"github.com/cklose2000/eventlake/pkg/events"
	"github.com/cklose2000/eventlake/pkg/invariant"
	"github.com/cklose2000/eventlake/pkg/planner"
	"github.com/cklose2000/eventlake/pkg/safesql"
)

// Viewer defaults apply when no system.permission.granted event exists for
// the caller.
const (
	DefaultMaxRows    = 1000
	DefaultMaxRuntime = 30 * time.Minute
	DefaultMaxBytes   = 100 << 20
)

// sampleRows caps the number of rows echoed back in the API response.
const sampleRows = 100

// Budget is the enforced execution cap set for one caller.
type Budget struct {
	MaxRows    int
	MaxRuntime time.Duration
	MaxBytes   int64
}

// DefaultBudget is the conservative viewer budget.
func DefaultBudget() Budget {
	return Budget{MaxRows: DefaultMaxRows, MaxRuntime: DefaultMaxRuntime, MaxBytes: DefaultMaxBytes}
}

// PermissionSource resolves a caller's budget from the latest
// system.permission.granted event. ok is false when the caller has no
// grant, in which case the viewer defaults apply.
type PermissionSource interface {
	BudgetFor(ctx context.Context, actorID string) (budget Budget, ok bool, err error)
}

// DriftGuard reports whether contract drift currently blocks queries.
// Implemented by the contract sentinel.
type DriftGuard interface {
	Blocking() bool
}

// Caller identifies the requester for budgets, tags and events.
type Caller struct {
	ActorID   string
	SessionID string
}

// Outcome is the result of a guarded execution.
type Outcome struct {
	Template        string  `json:"template"`
	PlanHash        string  `json:"plan_hash"`
	QueryID         string  `json:"query_id"`
	RowCount        int     `json:"row_count"`
	Columns         []string `json:"columns"`
	Sample          [][]any `json:"sample"`
	ExecutionTimeMS int64   `json:"execution_time_ms"`
	BytesScanned    int64   `json:"bytes_scanned"`
}

// Config carries deployment identity stamped into every query tag.
type Config struct {
	Service string
	Env     string
	GitSHA  string
}

// Executor runs validated plans. Stateless per request; any number of
// executions may run concurrently.
type Executor struct {
	engine   engine.Engine
	catalog  *contract.Catalog
	gate     *invariant.Gate
	perms    PermissionSource
	drift    DriftGuard
	recorder events.Recorder
	cfg      Config
}

// NewExecutor wires the executor. perms and drift may be nil in tests;
// nil perms means every caller gets the viewer defaults.
func NewExecutor(eng engine.Engine, catalog *contract.Catalog, perms PermissionSource, drift DriftGuard, recorder events.Recorder, cfg Config) *Executor {
	return &Executor{
		engine:   eng,
		catalog:  catalog,
		gate:     invariant.NewGate(catalog.LandingTable.Name),
		perms:    perms,
		drift:    drift,
		recorder: recorder,
		cfg:      cfg,
	}
}

// Execute runs one validated plan for one caller.
func (x *Executor) Execute(ctx context.Context, caller Caller, plan *planner.Plan) (*Outcome, error) {
	if x.drift != nil && x.drift.Blocking() {
		return nil, apperr.New(apperr.ContractDrift,
			"schema contract drift detected; queries are suspended",
			"wait for the contract sentinel to pass or update the catalog")
	}

	budget, err := x.resolveBudget(ctx, caller)
	if err != nil {
		return nil, err
	}

	planHash, err := plan.Hash()
	if err != nil {
		return nil, apperr.Wrap(apperr.Plan, "plan could not be hashed", "re-submit the plan", err)
	}

	src, ok := x.catalog.Source(plan.Source)
	if !ok {
		return nil, apperr.New(apperr.Plan,
			fmt.Sprintf("source %q is not whitelisted", plan.Source),
			"call list_sources for the allowed sources")
	}

	template := safesql.Select(plan)
	stmt, err := safesql.Render(template, plan, src)
	if err != nil {
		return nil, apperr.Wrap(apperr.Plan, "plan could not be rendered", "validate the plan first", err)
	}

	// Query templates cannot produce DDL, but every statement still goes
	// through the gate before it reaches the engine.
	if err := x.gate.Check(stmt.SQL); err != nil {
		return nil, apperr.Wrap(apperr.Invariant, "statement violates the two-table law", "report this plan", err)
	}

	outcome, err := x.runWithRetry(ctx, caller, budget, planHash, stmt)
	if err != nil {
		return nil, err
	}
	outcome.Template = stmt.Template
	outcome.PlanHash = planHash

	x.record(events.ActionQueryExecuted, caller, planHash, map[string]any{
		"template":   stmt.Template,
		"rows":       outcome.RowCount,
		"bytes":      outcome.BytesScanned,
		"elapsed_ms": outcome.ExecutionTimeMS,
	})
	return outcome, nil
}

// runWithRetry executes the statement, retrying once with a fresh session on
// a transient engine error. The retry is safe: SafeSQL statements are
// read-only.
func (x *Executor) runWithRetry(ctx context.Context, caller Caller, budget Budget, planHash string, stmt *safesql.Statement) (*Outcome, error) {
	outcome, err := x.runOnce(ctx, caller, budget, planHash, stmt)
	if err != nil && engine.IsTransient(err) {
		slog.Warn("Transient engine error, retrying with fresh session",
			"caller", caller.ActorID, "plan_hash", planHash, "error", err)
		outcome, err = x.runOnce(ctx, caller, budget, planHash, stmt)
	}
	if err != nil {
		return nil, x.classifyFailure(caller, planHash, stmt, err)
	}
	return outcome, nil
}

func (x *Executor) runOnce(ctx context.Context, caller Caller, budget Budget, planHash string, stmt *safesql.Statement) (*Outcome, error) {
	tag := engine.QueryTag{
		Service:   x.cfg.Service,
		Env:       x.cfg.Env,
		GitSHA:    x.cfg.GitSHA,
		PlanHash:  planHash,
		Caller:    caller.ActorID,
		SessionID: caller.SessionID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	encoded, err := tag.Encode()
	if err != nil {
		return nil, err
	}
	if err := x.engine.SetSession(ctx, engine.Session{QueryTag: encoded}); err != nil {
		return nil, err
	}

	// The engine's statement timeout comes from the runtime budget.
	execCtx, cancel := context.WithTimeout(ctx, budget.MaxRuntime)
	defer cancel()

	result, err := x.engine.Exec(execCtx, stmt.SQL, stmt.Binds)
	if err != nil {
		return nil, err
	}

	if over, detail := x.overBudget(result, budget); over {
		x.record(events.ActionQueryOverBudget, caller, planHash, map[string]any{
			"template": stmt.Template,
			"detail":   detail,
		})
		return nil, apperr.New(apperr.Budget, detail, "narrow the query or request a larger budget")
	}

	outcome := &Outcome{
		QueryID:         result.Metadata.QueryID,
		RowCount:        len(result.Rows),
		Columns:         result.Columns,
		Sample:          result.Rows,
		ExecutionTimeMS: result.Metadata.ElapsedMS,
		BytesScanned:    result.Metadata.BytesScanned,
	}
	if len(outcome.Sample) > sampleRows {
		outcome.Sample = outcome.Sample[:sampleRows]
	}
	return outcome, nil
}

func (x *Executor) overBudget(result *engine.Result, budget Budget) (bool, string) {
	if len(result.Rows) > budget.MaxRows {
		return true, fmt.Sprintf("result rows %d exceed budget %d", len(result.Rows), budget.MaxRows)
	}
	if budget.MaxBytes > 0 && result.Metadata.BytesScanned > budget.MaxBytes {
		return true, fmt.Sprintf("bytes scanned %d exceed budget %d", result.Metadata.BytesScanned, budget.MaxBytes)
	}
	return false, ""
}

// classifyFailure maps an execution error onto the boundary taxonomy and
// records the matching event.
func (x *Executor) classifyFailure(caller Caller, planHash string, stmt *safesql.Statement, err error) error {
	var appErr *apperr.Error
	if e, ok := err.(*apperr.Error); ok {
		// Over-budget already recorded inside runOnce.
		return e
	}
	switch engine.KindOf(err) {
	case engine.KindPermission:
		x.record(events.ActionQueryDenied, caller, planHash, map[string]any{"template": stmt.Template})
		appErr = apperr.Wrap(apperr.Permission, "the engine denied this query",
			"request access to the source from an administrator", err)
	case engine.KindTimeout:
		x.record(events.ActionQueryFailed, caller, planHash, map[string]any{
			"template": stmt.Template, "reason": "timeout"})
		appErr = apperr.Wrap(apperr.Budget, "query exceeded its runtime budget",
			"narrow the window or request a larger runtime budget", err)
	case engine.KindTransient:
		x.record(events.ActionQueryFailed, caller, planHash, map[string]any{
			"template": stmt.Template, "reason": "transient"})
		appErr = apperr.Wrap(apperr.EngineTransient, "the engine is temporarily unavailable",
			"retry the query", err)
	default:
		x.record(events.ActionQueryFailed, caller, planHash, map[string]any{
			"template": stmt.Template, "reason": "permanent"})
		appErr = apperr.Wrap(apperr.EnginePermanent, "the engine rejected this query",
			"validate the plan and try again", err)
	}
	return appErr
}

func (x *Executor) resolveBudget(ctx context.Context, caller Caller) (Budget, error) {
	if x.perms == nil {
		return DefaultBudget(), nil
	}
	budget, ok, err := x.perms.BudgetFor(ctx, caller.ActorID)
	if err != nil {
		return Budget{}, apperr.Wrap(apperr.EngineTransient, "could not resolve caller budget", "retry the query", err)
	}
	if !ok {
		return DefaultBudget(), nil
	}
	return budget, nil
}

func (x *Executor) record(action string, caller Caller, planHash string, attrs map[string]any) {
	if x.recorder == nil {
		return
	}
	attrs["plan_hash"] = planHash
	e := events.New(action, caller.SessionID, caller.ActorID, attrs)
	e.Source = events.SourceSystem
	x.recorder.Record(e)
}
