package contract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cklose2000/eventlake/pkg/engine"
	"github.com/cklose2000/eventlake/pkg/events"
)

// defaultInterval is the cadence of periodic contract re-validation.
const defaultInterval = 24 * time.Hour

// Report is the outcome of one sentinel run. Remediation statements are
// generated, never executed.
type Report struct {
	Passed      bool     `json:"passed"`
	Issues      []string `json:"issues"`
	Warnings    []string `json:"warnings"`
	Remediation []string `json:"remediation,omitempty"`
	State       State    `json:"state"`
}

// State captures the engine context observed during the run.
type State struct {
	Role         string `json:"role"`
	Warehouse    string `json:"warehouse"`
	ViewsFound   int    `json:"views_found"`
	ContractHash string `json:"contract_hash"`
}

// Sentinel validates the engine's visible objects against the catalog at
// boot and on a timer. In strict mode, detected drift makes new query
// attempts fail with a contract-drift error until a clean run.
type Sentinel struct {
	engine   engine.Engine
	catalog  *Catalog
	recorder events.Recorder
	strict   bool
	interval time.Duration

	runMu   sync.Mutex // prevents overlapping runs
	drifted atomic.Bool
}

// NewSentinel builds a sentinel. interval <= 0 selects the 24h default.
func NewSentinel(eng engine.Engine, catalog *Catalog, recorder events.Recorder, strict bool, interval time.Duration) *Sentinel {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Sentinel{engine: eng, catalog: catalog, recorder: recorder, strict: strict, interval: interval}
}

// Drifted reports whether the last run detected contract drift.
func (s *Sentinel) Drifted() bool { return s.drifted.Load() }

// Blocking reports whether new query attempts must be refused. Only strict
// mode escalates drift to a hard block; emission is never blocked.
func (s *Sentinel) Blocking() bool { return s.strict && s.drifted.Load() }

// Start runs the boot validation and then re-validates on a timer until ctx
// is done. The boot failure is returned; periodic failures are logged and
// recorded as events.
func (s *Sentinel) Start(ctx context.Context) (*Report, error) {
	report, err := s.RunOnce(ctx)
	if err != nil {
		return nil, err
	}
	go s.loop(ctx)
	return report, nil
}

func (s *Sentinel) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				slog.Error("Periodic contract validation failed", "error", err)
			}
		}
	}
}

// RunOnce performs one full validation pass. Overlapping runs are serialized.
func (s *Sentinel) RunOnce(ctx context.Context) (*Report, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	report := &Report{Passed: true, State: State{ContractHash: s.catalog.Hash()}}

	s.checkSchemas(ctx, report)
	s.checkLandingTable(ctx, report)
	s.checkSources(ctx, report)
	s.probePrivileges(ctx, report)
	s.checkSessionState(ctx, report)

	report.Passed = len(report.Issues) == 0
	s.drifted.Store(!report.Passed)

	if report.Passed {
		s.recorder.Record(events.New(events.ActionSchemaValidation, "sentinel", "contract-sentinel", map[string]any{
			"contract_hash": s.catalog.Hash(),
			"views_found":   report.State.ViewsFound,
			"warnings":      len(report.Warnings),
		}))
		slog.Info("Contract validation passed",
			"contract_hash", s.catalog.Hash(),
			"views_found", report.State.ViewsFound)
	} else {
		for _, issue := range report.Issues {
			s.recorder.Record(events.New(events.ActionSchemaViolation, "sentinel", "contract-sentinel", map[string]any{
				"contract_hash": s.catalog.Hash(),
				"expected":      issue,
				"actual":        "missing or mismatched",
			}))
		}
		slog.Error("Contract validation failed",
			"issues", len(report.Issues), "strict", s.strict)
	}
	return report, nil
}

func (s *Sentinel) checkSchemas(ctx context.Context, report *Report) {
	want := map[string]bool{}
	for _, src := range s.catalog.Sources {
		want[strings.ToUpper(src.Schema)] = false
	}
	if idx := strings.Index(s.catalog.LandingTable.Name, "."); idx > 0 {
		want[strings.ToUpper(s.catalog.LandingTable.Name[:idx])] = false
	}

	result, err := s.engine.Exec(ctx,
		"SELECT SCHEMA_NAME FROM INFORMATION_SCHEMA.SCHEMATA", nil)
	if err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("cannot list schemas: %v", err))
		return
	}
	for _, row := range result.Rows {
		if len(row) > 0 {
			want[strings.ToUpper(fmt.Sprint(row[0]))] = true
		}
	}
	for schema, found := range want {
		if !found {
			report.Issues = append(report.Issues, fmt.Sprintf("schema %s not visible in engine", schema))
			report.Remediation = append(report.Remediation, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", schema))
		}
	}
}

func (s *Sentinel) checkLandingTable(ctx context.Context, report *Report) {
	parts := strings.SplitN(s.catalog.LandingTable.Name, ".", 2)
	if len(parts) != 2 {
		report.Issues = append(report.Issues, fmt.Sprintf("landing table name %q is not schema-qualified", s.catalog.LandingTable.Name))
		return
	}
	result, err := s.engine.Exec(ctx,
		"SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE UPPER(TABLE_SCHEMA) = $1 AND UPPER(TABLE_NAME) = $2",
		[]any{strings.ToUpper(parts[0]), strings.ToUpper(parts[1])})
	if err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("cannot describe landing table: %v", err))
		return
	}
	found := map[string]bool{}
	for _, row := range result.Rows {
		if len(row) > 0 {
			found[strings.ToUpper(fmt.Sprint(row[0]))] = true
		}
	}
	for _, col := range s.catalog.LandingTable.Columns {
		if !found[strings.ToUpper(col.Name)] {
			report.Issues = append(report.Issues,
				fmt.Sprintf("landing table missing required column %s %s", col.Name, col.Type))
			report.Remediation = append(report.Remediation,
				fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s;", s.catalog.LandingTable.Name, col.Name, col.Type))
		}
	}
}

// checkSources verifies every whitelisted view exists and is readable,
// sampling at most one row per view.
func (s *Sentinel) checkSources(ctx context.Context, report *Report) {
	for _, src := range s.catalog.Sources {
		_, err := s.engine.Exec(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 1", src.Name), nil)
		if err != nil {
			if engine.KindOf(err) == engine.KindNotFound {
				report.Issues = append(report.Issues, fmt.Sprintf("source %s not found", src.Name))
				report.Remediation = append(report.Remediation,
					fmt.Sprintf("-- recreate %s from the projection; see migrations", src.Name))
			} else {
				report.Issues = append(report.Issues, fmt.Sprintf("source %s not readable: %v", src.Name, err))
			}
			continue
		}
		report.State.ViewsFound++
	}
}

// probePrivileges checks DDL privileges with a harmless view on a scratch
// name, then drops it.
func (s *Sentinel) probePrivileges(ctx context.Context, report *Report) {
	scratch := fmt.Sprintf("ACTIVITY.SENTINEL_PROBE_%d", time.Now().UnixNano())
	if _, err := s.engine.Exec(ctx, fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT 1 AS OK", scratch), nil); err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("cannot create views (%v); dashboard publishing will fail", err))
		return
	}
	if _, err := s.engine.Exec(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s", scratch), nil); err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("probe view %s could not be dropped: %v", scratch, err))
	}
}

// checkSessionState records the engine identity the run executed as, so the
// report shows which role and database were validated.
func (s *Sentinel) checkSessionState(ctx context.Context, report *Report) {
	result, err := s.engine.Exec(ctx, "SELECT CURRENT_USER, CURRENT_DATABASE()", nil)
	if err != nil || len(result.Rows) == 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("cannot read session state: %v", err))
		return
	}
	row := result.Rows[0]
	if len(row) > 0 {
		report.State.Role = fmt.Sprint(row[0])
	}
	if len(row) > 1 {
		report.State.Warehouse = fmt.Sprint(row[1])
	}
}
