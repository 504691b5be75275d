package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cklose2000/eventlake/pkg/apperr"
	"github.com/cklose2000/eventlake/pkg/contract"
	"github.com/cklose2000/eventlake/pkg/engine"
	"github.com/cklose2000/eventlake/pkg/events"
	"github.com/cklose2000/eventlake/pkg/invariant"
	"github.com/cklose2000/eventlake/pkg/planner"
	"github.com/cklose2000/eventlake/pkg/safesql"
)

// Factory limits.
const (
	DefaultCreateTimeout = 5 * time.Minute
	MaxPanels            = 12
)

// VersionSource answers which version of a dashboard is live. Versions are
// events, so the implementation reads the projection; tests inject a fake.
type VersionSource interface {
	// ActiveVersion returns the live hash for a name, or "" when the
	// dashboard has never been published.
	ActiveVersion(ctx context.Context, name string) (string, error)

	// PreviousVersion returns the hash that was live before the current
	// one, or "" when there is no earlier version.
	PreviousVersion(ctx context.Context, name string) (string, error)
}

// Factory publishes content-addressed dashboards. One factory serves all
// dashboards; publishes to the same name serialize on a per-name lock.
type Factory struct {
	eng      engine.Engine
	catalog  *contract.Catalog
	gate     *invariant.Gate
	versions VersionSource
	recorder events.Recorder
	analyzer *Analyzer
	timeout  time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFactory wires the factory. timeout <= 0 selects the default.
func NewFactory(eng engine.Engine, catalog *contract.Catalog, versions VersionSource, recorder events.Recorder, timeout time.Duration) *Factory {
	if timeout <= 0 {
		timeout = DefaultCreateTimeout
	}
	return &Factory{
		eng:      eng,
		catalog:  catalog,
		gate:     invariant.NewGate(catalog.LandingTable.Name),
		versions: versions,
		recorder: recorder,
		analyzer: &Analyzer{},
		timeout:  timeout,
	}
}

// CreateFromConversation drafts a spec from the conversation and publishes
// it. The analyzer terminates vague conversations before anything is built.
func (f *Factory) CreateFromConversation(ctx context.Context, actorID, sessionID, name, conversation string, schedule Schedule) (*Manifest, error) {
	spec, err := f.analyzer.GenerateSpec(name, conversation, schedule, f.catalog.Version)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, "could not derive a dashboard from the conversation",
			"describe which activity, LLM, SQL or template views the dashboard should show", err)
	}
	return f.Publish(ctx, actorID, sessionID, spec)
}

// Publish runs validate → preflight → materialize → render → publish for
// one spec. Republishing an existing hash only reasserts the live pointer.
func (f *Factory) Publish(ctx context.Context, actorID, sessionID string, spec *Spec) (*Manifest, error) {
	spec.Canonicalize()
	if err := spec.Validate(f.catalog); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "dashboard spec is invalid", "fix the spec and retry", err)
	}
	hash, err := spec.Hash()
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, "dashboard spec could not be hashed", "fix the spec and retry", err)
	}

	unlock := f.lock(spec.Name)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	// Idempotent republish: the artifact tree for this hash already
	// exists, so only the pointer moves.
	if data, err := f.eng.GetStage(ctx, manifestPath(spec.Name, hash)); err == nil {
		manifest, err := DecodeManifest(data)
		if err != nil {
			return nil, apperr.Wrap(apperr.EnginePermanent, "stored manifest is corrupt", "republish under a new name", err)
		}
		if err := f.activate(ctx, actorID, sessionID, manifest, true); err != nil {
			return nil, err
		}
		return manifest, nil
	}

	manifest, created, err := f.build(ctx, actorID, sessionID, spec, hash)
	if err != nil {
		f.compensate(spec.Name, hash, created, err)
		if errors.Is(err, context.DeadlineExceeded) {
			f.record(events.ActionCreationTimeout, actorID, sessionID, map[string]any{
				"name": spec.Name, "hash": hash,
			})
			return nil, apperr.Wrap(apperr.EngineTransient, "dashboard creation timed out",
				"retry with fewer panels", err)
		}
		f.record(events.ActionCreationFailed, actorID, sessionID, map[string]any{
			"name": spec.Name, "hash": hash, "error": err.Error(),
		})
		if appErr := (*apperr.Error)(nil); errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.EnginePermanent, "dashboard creation failed", "inspect the spec and retry", err)
	}

	if err := f.activate(ctx, actorID, sessionID, manifest, false); err != nil {
		return nil, err
	}
	return manifest, nil
}

// build runs preflight, materialize and render. The live pointer is never
// touched here, so a failure at any point leaves the previous version
// serving.
func (f *Factory) build(ctx context.Context, actorID, sessionID string, spec *Spec, hash string) (*Manifest, []string, error) {
	if err := f.preflight(ctx, spec); err != nil {
		return nil, nil, err
	}

	manifest := &Manifest{
		Name:            spec.Name,
		Hash:            hash,
		Spec:            spec,
		ContractVersion: f.catalog.Version,
		CreatedBy:       actorID,
		CreatedAt:       time.Now().UTC(),
	}

	// Materialize panels concurrently. Every created view is tracked, even
	// on a failed panel, so compensation can drop them all.
	var artMu sync.Mutex
	var created []string
	g, gctx := errgroup.WithContext(ctx)
	for i := range spec.Panels {
		panel := &spec.Panels[i]
		g.Go(func() error {
			arts, views, err := f.materializePanel(gctx, spec, hash, panel)
			artMu.Lock()
			created = append(created, views...)
			manifest.Artifacts = append(manifest.Artifacts, arts...)
			artMu.Unlock()
			if err != nil {
				return fmt.Errorf("panel %q: %w", panel.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, created, err
	}

	if err := f.render(ctx, manifest); err != nil {
		return nil, created, err
	}
	return manifest, created, nil
}

// preflight checks privileges, panel count and the freshness prerequisite,
// falling back to the exact cron schedule when incremental refresh is not
// available.
func (f *Factory) preflight(ctx context.Context, spec *Spec) error {
	if len(spec.Panels) > MaxPanels {
		return apperr.New(apperr.Validation,
			fmt.Sprintf("dashboard has %d panels, limit is %d", len(spec.Panels), MaxPanels),
			"split the dashboard")
	}

	probe := fmt.Sprintf("ACTIVITY.DASH_PREFLIGHT_%d", time.Now().UnixNano())
	if _, err := f.eng.Exec(ctx, fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT 1 AS OK", probe), nil); err != nil {
		return apperr.Wrap(apperr.Permission, "missing privilege to create dashboard views",
			"grant CREATE on the ACTIVITY schema to the service role", err)
	}
	if _, err := f.eng.Exec(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s", probe), nil); err != nil {
		slog.Warn("Failed to drop preflight probe view", "view", probe, "error", err)
	}

	if strings.EqualFold(spec.Schedule.Mode, ModeFreshness) && !f.freshnessAvailable(ctx) {
		fallback, ok := FallbackToExact(spec.Schedule)
		if !ok {
			return apperr.New(apperr.Validation, "freshness schedule cannot be converted", "use an exact cron schedule")
		}
		slog.Info("preflight_fallback", "dashboard", spec.Name,
			"target_lag", spec.Schedule.TargetLag, "cron_utc", fallback.CronUTC)
		spec.Schedule = fallback
	}
	return nil
}

// freshnessAvailable probes whether the engine supports incrementally
// refreshed views by creating and dropping a throwaway materialized view.
func (f *Factory) freshnessAvailable(ctx context.Context) bool {
	probe := fmt.Sprintf("ACTIVITY.DASH_FRESHNESS_PROBE_%d", time.Now().UnixNano())
	if _, err := f.eng.Exec(ctx, fmt.Sprintf("CREATE MATERIALIZED VIEW %s AS SELECT 1 AS OK", probe), nil); err != nil {
		return false
	}
	if _, err := f.eng.Exec(ctx, fmt.Sprintf("DROP MATERIALIZED VIEW IF EXISTS %s", probe), nil); err != nil {
		slog.Warn("Failed to drop freshness probe view", "view", probe, "error", err)
	}
	return true
}

// materializePanel creates the panel's engine objects: a base view, a top
// view when top_n is set, and the refresh artifact.
func (f *Factory) materializePanel(ctx context.Context, spec *Spec, hash string, panel *Panel) (arts []Artifact, created []string, err error) {
	src, ok := f.catalog.Source(panel.Source)
	if !ok {
		return nil, nil, fmt.Errorf("source %q is not whitelisted", panel.Source)
	}
	stem := artifactStem(spec.Name, hash, panel.ID)

	basePlan := panel.Plan()
	basePlan.TopN = nil
	baseSQL, tpl, err := f.panelSQL(basePlan, src)
	if err != nil {
		return nil, nil, err
	}
	baseView := stem + "_BASE"
	if err := f.createView(ctx, "CREATE OR REPLACE VIEW "+baseView+" AS "+baseSQL); err != nil {
		return nil, nil, err
	}
	created = append(created, baseView)
	arts = append(arts, Artifact{PanelID: panel.ID, Kind: ArtifactBaseView, Identifier: baseView, Template: tpl})

	if panel.TopN != nil {
		topPlan := panel.Plan()
		topSQL, topTpl, err := f.panelSQL(topPlan, src)
		if err != nil {
			return arts, created, err
		}
		topView := stem + "_TOP"
		if err := f.createView(ctx, "CREATE OR REPLACE VIEW "+topView+" AS "+topSQL); err != nil {
			return arts, created, err
		}
		created = append(created, topView)
		arts = append(arts, Artifact{PanelID: panel.ID, Kind: ArtifactTopView, Identifier: topView, Template: topTpl})
	}

	// Refresh artifact: a materialized view over the base view. Exact
	// schedules record the cron in the manifest; freshness relies on the
	// engine's incremental refresh.
	refresh := stem + "_MV"
	cols := baseColumns(basePlan)
	ddl := fmt.Sprintf("CREATE MATERIALIZED VIEW IF NOT EXISTS %s AS SELECT %s FROM %s",
		refresh, strings.Join(cols, ", "), baseView)
	if err := f.createView(ctx, ddl); err != nil {
		return arts, created, err
	}
	created = append(created, refresh)
	arts = append(arts, Artifact{PanelID: panel.ID, Kind: ArtifactRefresh, Identifier: refresh, Template: tpl})

	return arts, created, nil
}

// panelSQL renders the panel's plan and inlines the binds for view DDL.
func (f *Factory) panelSQL(plan *planner.Plan, src *contract.SourceDef) (string, string, error) {
	tpl := safesql.Select(plan)
	stmt, err := safesql.Render(tpl, plan, src)
	if err != nil {
		return "", "", err
	}
	sql, err := stmt.Inline()
	if err != nil {
		return "", "", err
	}
	return sql, stmt.Template, nil
}

// baseColumns lists the output columns of a panel's base view, mirroring
// the rendered select list. Time series views bucket a single measure.
func baseColumns(plan *planner.Plan) []string {
	var cols []string
	measures := plan.Measures
	if plan.Grain != "" {
		cols = append(cols, "BUCKET")
		if len(measures) > 1 {
			measures = measures[:1]
		}
	}
	for _, d := range plan.Dimensions {
		cols = append(cols, strings.ToUpper(d))
	}
	taken := map[string]bool{}
	for _, m := range measures {
		name := m.OutputName()
		for n := 2; taken[name]; n++ {
			name = fmt.Sprintf("%s_%d", m.OutputName(), n)
		}
		taken[name] = true
		cols = append(cols, name)
	}
	if len(cols) == 0 {
		cols = []string{"*"}
	}
	return cols
}

// createView gates and executes one DDL statement.
func (f *Factory) createView(ctx context.Context, ddl string) error {
	if err := f.gate.Check(ddl); err != nil {
		return err
	}
	_, err := f.eng.Exec(ctx, ddl, nil)
	return err
}

// render writes the stage artifact tree for the version.
func (f *Factory) render(ctx context.Context, m *Manifest) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if err := f.eng.PutStage(ctx, manifestPath(m.Name, m.Hash), data); err != nil {
		return err
	}
	entry, err := renderEntry(m)
	if err != nil {
		return err
	}
	if err := f.eng.PutStage(ctx, entryPath(m.Name, m.Hash), entry); err != nil {
		return err
	}
	for _, p := range m.Spec.Panels {
		meta, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode panel %q: %w", p.ID, err)
		}
		if err := f.eng.PutStage(ctx, panelPath(m.Name, m.Hash, p.ID), meta); err != nil {
			return err
		}
	}
	return nil
}

// activate performs the blue/green swap: registers the app against the new
// stage path and emits the pointer events. The previous version's artifacts
// are retained for rollback.
func (f *Factory) activate(ctx context.Context, actorID, sessionID string, m *Manifest, reasserted bool) error {
	previous, err := f.versions.ActiveVersion(ctx, m.Name)
	if err != nil {
		return apperr.Wrap(apperr.EngineTransient, "could not resolve the active dashboard version", "retry the publish", err)
	}

	data, err := m.Encode()
	if err != nil {
		return apperr.Wrap(apperr.EnginePermanent, "manifest could not be encoded", "republish", err)
	}

	if !reasserted {
		f.record(events.ActionVersionUploaded, actorID, sessionID, map[string]any{
			"name": m.Name, "hash": m.Hash, "stage_path": versionPath(m.Name, m.Hash),
		})
	}
	if err := f.eng.CreateOrReplaceApp(ctx, m.Name, data); err != nil {
		return apperr.Wrap(apperr.EngineTransient, "failed to retarget the dashboard app", "retry the publish", err)
	}
	if !reasserted && previous != "" && previous != m.Hash {
		f.record(events.ActionBlueGreenSwapped, actorID, sessionID, map[string]any{
			"name": m.Name, "from_hash": previous, "to_hash": m.Hash,
		})
	}
	f.record(events.ActionVersionActive, actorID, sessionID, map[string]any{
		"name": m.Name, "hash": m.Hash, "reasserted": reasserted,
	})
	return nil
}

// Rollback retargets a dashboard to its previous version. The old artifact
// tree was retained at publish time, so this is pointer movement only.
func (f *Factory) Rollback(ctx context.Context, actorID, sessionID, name string) (*Manifest, error) {
	unlock := f.lock(name)
	defer unlock()

	toHash, err := f.versions.PreviousVersion(ctx, name)
	if err != nil {
		return nil, apperr.Wrap(apperr.EngineTransient, "could not resolve the previous version", "retry the rollback", err)
	}
	if toHash == "" {
		return nil, apperr.New(apperr.Validation,
			fmt.Sprintf("dashboard %q has no previous version", name), "publish a new version instead")
	}

	data, err := f.eng.GetStage(ctx, manifestPath(name, toHash))
	if err != nil {
		return nil, apperr.Wrap(apperr.EnginePermanent, "previous version's manifest is missing", "publish a new version", err)
	}
	manifest, err := DecodeManifest(data)
	if err != nil {
		return nil, apperr.Wrap(apperr.EnginePermanent, "previous version's manifest is corrupt", "publish a new version", err)
	}
	if err := f.eng.CreateOrReplaceApp(ctx, name, data); err != nil {
		return nil, apperr.Wrap(apperr.EngineTransient, "failed to retarget the dashboard app", "retry the rollback", err)
	}
	f.record(events.ActionRollbackExecuted, actorID, sessionID, map[string]any{
		"name": name, "to_hash": toHash,
	})
	return manifest, nil
}

// Manifest returns the live version's manifest.
func (f *Factory) Manifest(ctx context.Context, name string) (*Manifest, error) {
	hash, err := f.versions.ActiveVersion(ctx, name)
	if err != nil {
		return nil, apperr.Wrap(apperr.EngineTransient, "could not resolve the active dashboard version", "retry", err)
	}
	if hash == "" {
		return nil, apperr.New(apperr.Validation, fmt.Sprintf("dashboard %q has never been published", name), "publish it first")
	}
	data, err := f.eng.GetStage(ctx, manifestPath(name, hash))
	if err != nil {
		return nil, apperr.Wrap(apperr.EnginePermanent, "active manifest is missing from the stage", "republish the dashboard", err)
	}
	return DecodeManifest(data)
}

// compensate drops everything the failed build created. The live pointer
// was never touched, so dropping is safe.
func (f *Factory) compensate(name, hash string, created []string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, view := range created {
		kind := "VIEW"
		if strings.HasSuffix(view, "_MV") {
			kind = "MATERIALIZED VIEW"
		}
		if _, err := f.eng.Exec(ctx, fmt.Sprintf("DROP %s IF EXISTS %s", kind, view), nil); err != nil {
			slog.Warn("Compensation could not drop view", "view", view, "error", err)
		}
	}
	if err := f.eng.RemoveStage(ctx, versionPath(name, hash)); err != nil {
		slog.Warn("Compensation could not remove stage files", "dashboard", name, "hash", hash, "error", err)
	}
	slog.Warn("Dashboard creation compensated", "dashboard", name, "hash", hash, "cause", cause)
}

func (f *Factory) lock(name string) func() {
	f.mu.Lock()
	if f.locks == nil {
		f.locks = map[string]*sync.Mutex{}
	}
	l, ok := f.locks[name]
	if !ok {
		l = &sync.Mutex{}
		f.locks[name] = l
	}
	f.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (f *Factory) record(action, actorID, sessionID string, attrs map[string]any) {
	if f.recorder == nil {
		return
	}
	e := events.New(action, sessionID, actorID, attrs)
	e.Source = events.SourceSystem
	if name, ok := attrs["name"].(string); ok {
		e.Object = &events.ObjectRef{Type: "dashboard", ID: name}
	}
	f.recorder.Record(e)
}
