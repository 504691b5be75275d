package guard

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklose2000/eventlake/pkg/apperr"
	"github.com/cklose2000/eventlake/pkg/contract"
	"github.com/cklose2000/eventlake/pkg/engine"
	"github.com/cklose2000/eventlake/pkg/engine/enginetest"
	"github.com/cklose2000/eventlake/pkg/events"
	"github.com/cklose2000/eventlake/pkg/planner"
)

type captureRecorder struct {
	events []*events.Event
}

func (r *captureRecorder) Record(e *events.Event) { r.events = append(r.events, e) }

func (r *captureRecorder) actions() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

type staticPerms struct {
	budget Budget
	ok     bool
}

func (p staticPerms) BudgetFor(ctx context.Context, actorID string) (Budget, bool, error) {
	return p.budget, p.ok, nil
}

type staticDrift bool

func (d staticDrift) Blocking() bool { return bool(d) }

func topActivitiesPlan() *planner.Plan {
	n := 5
	return &planner.Plan{
		Source:     "ACTIVITY.VW_ACTIVITY_COUNTS_24H",
		Dimensions: []string{"ACTIVITY"},
		Measures:   []planner.Measure{{Fn: planner.FnSum, Column: "EVENT_COUNT"}},
		GroupBy:    []string{"ACTIVITY"},
		TopN:       &n,
	}
}

func newTestExecutor(t *testing.T, eng engine.Engine, perms PermissionSource, drift DriftGuard, rec events.Recorder) *Executor {
	t.Helper()
	catalog, err := contract.Load()
	require.NoError(t, err)
	return NewExecutor(eng, catalog, perms, drift, rec, Config{
		Service: "eventlake",
		Env:     "test",
		GitSHA:  "abc1234",
	})
}

func TestExecuteSuccess(t *testing.T) {
	fake := enginetest.New()
	fake.SetExecResult(&engine.Result{
		Columns: []string{"ACTIVITY", "SUM_EVENT_COUNT"},
		Rows: [][]any{
			{"ccode.mcp.query_executed", int64(42)},
			{"dashboard.version.active", int64(7)},
		},
		Metadata: engine.Metadata{QueryID: "q-1", BytesScanned: 2048, ElapsedMS: 12},
	})
	rec := &captureRecorder{}
	x := newTestExecutor(t, fake, nil, nil, rec)

	plan := topActivitiesPlan()
	outcome, err := x.Execute(context.Background(), Caller{ActorID: "claude-code", SessionID: "sess-1"}, plan)
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.RowCount)
	assert.Equal(t, "q-1", outcome.QueryID)
	assert.Equal(t, int64(2048), outcome.BytesScanned)
	assert.NotEmpty(t, outcome.PlanHash)

	require.Len(t, rec.events, 1)
	assert.Equal(t, events.ActionQueryExecuted, rec.events[0].Action)
	assert.Equal(t, outcome.PlanHash, rec.events[0].Attributes["plan_hash"])
	assert.Equal(t, "sess-1", rec.events[0].SessionID)
}

func TestExecuteStampsQueryTag(t *testing.T) {
	fake := enginetest.New()
	x := newTestExecutor(t, fake, nil, nil, &captureRecorder{})

	plan := topActivitiesPlan()
	hash, err := plan.Hash()
	require.NoError(t, err)

	_, err = x.Execute(context.Background(), Caller{ActorID: "claude-code", SessionID: "sess-9"}, plan)
	require.NoError(t, err)

	var tag engine.QueryTag
	require.NoError(t, json.Unmarshal([]byte(fake.LastSession().QueryTag), &tag))
	assert.Equal(t, "eventlake", tag.Service)
	assert.Equal(t, hash, tag.PlanHash)
	assert.Equal(t, "claude-code", tag.Caller)
	assert.Equal(t, "sess-9", tag.SessionID)

	createdAt, err := time.Parse(time.RFC3339, tag.CreatedAt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), createdAt, time.Minute)
}

func TestExecuteRetriesOnceOnTransient(t *testing.T) {
	fake := enginetest.New()
	fake.QueueExecError(
		engine.NewError(engine.KindTransient, "exec", errors.New("connection reset")),
		nil,
	)
	rec := &captureRecorder{}
	x := newTestExecutor(t, fake, nil, nil, rec)

	_, err := x.Execute(context.Background(), Caller{ActorID: "a", SessionID: "s"}, topActivitiesPlan())
	require.NoError(t, err)

	// One retry with a fresh session, then success.
	assert.Len(t, fake.Execs, 2)
	assert.Len(t, fake.Sessions, 2)
	assert.Equal(t, []string{events.ActionQueryExecuted}, rec.actions())
}

func TestExecuteTransientTwiceFails(t *testing.T) {
	fake := enginetest.New()
	transient := engine.NewError(engine.KindTransient, "exec", errors.New("pool exhausted"))
	fake.QueueExecError(transient, transient)
	rec := &captureRecorder{}
	x := newTestExecutor(t, fake, nil, nil, rec)

	_, err := x.Execute(context.Background(), Caller{ActorID: "a", SessionID: "s"}, topActivitiesPlan())
	require.Error(t, err)
	assert.Equal(t, apperr.EngineTransient, apperr.KindOf(err))
	assert.Len(t, fake.Execs, 2)
	assert.Equal(t, []string{events.ActionQueryFailed}, rec.actions())
}

func TestExecutePermissionDenied(t *testing.T) {
	fake := enginetest.New()
	fake.QueueExecError(engine.NewError(engine.KindPermission, "exec", errors.New("permission denied for view")))
	rec := &captureRecorder{}
	x := newTestExecutor(t, fake, nil, nil, rec)

	_, err := x.Execute(context.Background(), Caller{ActorID: "a", SessionID: "s"}, topActivitiesPlan())
	require.Error(t, err)
	assert.Equal(t, apperr.Permission, apperr.KindOf(err))
	// Permission errors are permanent; no retry.
	assert.Len(t, fake.Execs, 1)
	assert.Equal(t, []string{events.ActionQueryDenied}, rec.actions())

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.NotEmpty(t, appErr.Remediation)
}

func TestExecuteTimeoutMapsToBudget(t *testing.T) {
	fake := enginetest.New()
	fake.QueueExecError(engine.NewError(engine.KindTimeout, "exec", errors.New("statement canceled")))
	rec := &captureRecorder{}
	x := newTestExecutor(t, fake, nil, nil, rec)

	_, err := x.Execute(context.Background(), Caller{ActorID: "a", SessionID: "s"}, topActivitiesPlan())
	require.Error(t, err)
	assert.Equal(t, apperr.Budget, apperr.KindOf(err))
	assert.Equal(t, []string{events.ActionQueryFailed}, rec.actions())
}

func TestExecuteRowBudgetExceeded(t *testing.T) {
	fake := enginetest.New()
	fake.SetExecResult(&engine.Result{
		Columns: []string{"ACTIVITY", "SUM_EVENT_COUNT"},
		Rows: [][]any{
			{"a", int64(1)}, {"b", int64(2)}, {"c", int64(3)},
		},
	})
	rec := &captureRecorder{}
	perms := staticPerms{budget: Budget{MaxRows: 2, MaxRuntime: time.Minute, MaxBytes: DefaultMaxBytes}, ok: true}
	x := newTestExecutor(t, fake, perms, nil, rec)

	_, err := x.Execute(context.Background(), Caller{ActorID: "a", SessionID: "s"}, topActivitiesPlan())
	require.Error(t, err)
	assert.Equal(t, apperr.Budget, apperr.KindOf(err))
	assert.Equal(t, []string{events.ActionQueryOverBudget}, rec.actions())
}

func TestExecuteBytesBudgetExceeded(t *testing.T) {
	fake := enginetest.New()
	fake.SetExecResult(&engine.Result{
		Rows:     [][]any{{"a", int64(1)}},
		Metadata: engine.Metadata{BytesScanned: 10 << 20},
	})
	rec := &captureRecorder{}
	perms := staticPerms{budget: Budget{MaxRows: 100, MaxRuntime: time.Minute, MaxBytes: 1 << 20}, ok: true}
	x := newTestExecutor(t, fake, perms, nil, rec)

	_, err := x.Execute(context.Background(), Caller{ActorID: "a", SessionID: "s"}, topActivitiesPlan())
	require.Error(t, err)
	assert.Equal(t, apperr.Budget, apperr.KindOf(err))
	assert.Equal(t, []string{events.ActionQueryOverBudget}, rec.actions())
}

func TestExecuteDefaultsToViewerBudget(t *testing.T) {
	fake := enginetest.New()
	x := newTestExecutor(t, fake, staticPerms{ok: false}, nil, &captureRecorder{})

	_, err := x.Execute(context.Background(), Caller{ActorID: "unknown", SessionID: "s"}, topActivitiesPlan())
	require.NoError(t, err)
}

func TestExecuteBlockedByContractDrift(t *testing.T) {
	fake := enginetest.New()
	x := newTestExecutor(t, fake, nil, staticDrift(true), &captureRecorder{})

	_, err := x.Execute(context.Background(), Caller{ActorID: "a", SessionID: "s"}, topActivitiesPlan())
	require.Error(t, err)
	assert.Equal(t, apperr.ContractDrift, apperr.KindOf(err))
	assert.Empty(t, fake.Execs)
}

func TestExecuteRejectsUnknownSource(t *testing.T) {
	fake := enginetest.New()
	x := newTestExecutor(t, fake, nil, nil, &captureRecorder{})

	plan := topActivitiesPlan()
	plan.Source = "PG_CATALOG.PG_TABLES"
	_, err := x.Execute(context.Background(), Caller{ActorID: "a", SessionID: "s"}, plan)
	require.Error(t, err)
	assert.Equal(t, apperr.Plan, apperr.KindOf(err))
	assert.Empty(t, fake.Execs)
}

func TestExecuteSampleIsCapped(t *testing.T) {
	rows := make([][]any, sampleRows+50)
	for i := range rows {
		rows[i] = []any{"a", int64(i)}
	}
	fake := enginetest.New()
	fake.SetExecResult(&engine.Result{Rows: rows})
	perms := staticPerms{budget: Budget{MaxRows: planner.MaxRows, MaxRuntime: time.Minute, MaxBytes: DefaultMaxBytes}, ok: true}
	x := newTestExecutor(t, fake, perms, nil, &captureRecorder{})

	outcome, err := x.Execute(context.Background(), Caller{ActorID: "a", SessionID: "s"}, topActivitiesPlan())
	require.NoError(t, err)
	assert.Equal(t, len(rows), outcome.RowCount)
	assert.Len(t, outcome.Sample, sampleRows)
}
