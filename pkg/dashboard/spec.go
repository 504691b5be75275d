// Package dashboard is the factory that turns a conversation into a
// published, content-addressed dashboard. Artifacts are views and stage
// files; the only state is the event stream, so "current version" is just
// the latest activation event for a name.
package dashboard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cklose2000/eventlake/pkg/contract"
	"github.com/cklose2000/eventlake/pkg/events"
	"github.com/cklose2000/eventlake/pkg/planner"
)

// Schedule modes.
const (
	ModeExact     = "exact"
	ModeFreshness = "freshness"
)

// Panel types.
const (
	PanelMetric     = "metric"
	PanelChart      = "chart"
	PanelTimeseries = "timeseries"
	PanelTable      = "table"
)

var nameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,62}$`)

// Panel is one tile of a dashboard: a source, an aggregation shape and a
// presentation type.
type Panel struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Source   string            `json:"source"`
	Metric   string            `json:"metric,omitempty"` // "fn:column" shorthand for a single measure
	Measures []planner.Measure `json:"measures,omitempty"`
	GroupBy  []string          `json:"group_by,omitempty"`
	Filters  []planner.Filter  `json:"filters,omitempty"`
	Window   *planner.Window   `json:"window,omitempty"`
	TopN     *int              `json:"top_n,omitempty"`
	Grain    string            `json:"grain,omitempty"`
}

// Schedule controls refresh. Exact mode carries a UTC cron; freshness mode
// carries a target lag from the closed enum in cronByLag.
type Schedule struct {
	Mode      string `json:"mode"`
	CronUTC   string `json:"cron_utc,omitempty"`
	TargetLag string `json:"target_lag,omitempty"`
}

// Spec is the content-addressed dashboard description.
type Spec struct {
	Name            string   `json:"name"`
	Timezone        string   `json:"timezone,omitempty"`
	Panels          []Panel  `json:"panels"`
	Schedule        Schedule `json:"schedule"`
	ContractVersion string   `json:"contract_version,omitempty"`
}

// Plan converts the panel to a query plan. The panel's shorthand fields map
// onto the same plan grammar the executor validates.
func (p *Panel) Plan() *planner.Plan {
	plan := &planner.Plan{
		Source:     p.Source,
		Dimensions: append([]string(nil), p.GroupBy...),
		Measures:   append([]planner.Measure(nil), p.Measures...),
		Filters:    append([]planner.Filter(nil), p.Filters...),
		GroupBy:    append([]string(nil), p.GroupBy...),
		Window:     p.Window,
		TopN:       p.TopN,
		Grain:      strings.ToLower(p.Grain),
	}
	if len(plan.Measures) == 0 && p.Metric != "" {
		fn, col, found := strings.Cut(p.Metric, ":")
		if !found {
			fn, col = "COUNT", fn
		}
		plan.Measures = []planner.Measure{{Fn: planner.AggFn(strings.ToUpper(fn)), Column: col}}
	}
	return plan
}

// Canonicalize normalizes the spec in place: lowercased slug and timezone,
// trimmed whitespace, panels sorted by id, measure functions uppercased.
func (s *Spec) Canonicalize() {
	s.Name = strings.ToLower(strings.TrimSpace(s.Name))
	s.Timezone = strings.TrimSpace(s.Timezone)
	s.Schedule.Mode = strings.ToLower(strings.TrimSpace(s.Schedule.Mode))
	s.Schedule.TargetLag = strings.ToLower(strings.TrimSpace(s.Schedule.TargetLag))
	for i := range s.Panels {
		p := &s.Panels[i]
		p.ID = strings.ToLower(strings.TrimSpace(p.ID))
		p.Type = strings.ToLower(strings.TrimSpace(p.Type))
		p.Grain = strings.ToLower(strings.TrimSpace(p.Grain))
		for j := range p.Measures {
			p.Measures[j].Fn = planner.AggFn(strings.ToUpper(string(p.Measures[j].Fn)))
		}
	}
	sort.Slice(s.Panels, func(i, j int) bool { return s.Panels[i].ID < s.Panels[j].ID })
}

// Hash returns the stable content address of the canonicalized spec. Two
// specs that differ only in panel order or key casing hash identically.
func (s *Spec) Hash() (string, error) {
	cp := *s
	cp.Panels = append([]Panel(nil), s.Panels...)
	cp.Canonicalize()
	data, err := events.CanonicalJSON(&cp)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize dashboard spec: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Validate checks the spec against the schema contract. Every panel's plan
// must pass the same validator ad-hoc queries do.
func (s *Spec) Validate(catalog *contract.Catalog) error {
	if !nameRe.MatchString(strings.ToLower(strings.TrimSpace(s.Name))) {
		return fmt.Errorf("dashboard name %q is not a valid slug", s.Name)
	}
	if len(s.Panels) == 0 {
		return fmt.Errorf("dashboard has no panels")
	}
	switch strings.ToLower(s.Schedule.Mode) {
	case ModeExact:
		if s.Schedule.CronUTC == "" {
			return fmt.Errorf("exact schedule requires cron_utc")
		}
	case ModeFreshness:
		if _, ok := CronFor(s.Schedule.TargetLag); !ok {
			return fmt.Errorf("freshness schedule has unknown target_lag %q", s.Schedule.TargetLag)
		}
	default:
		return fmt.Errorf("schedule mode %q is not exact or freshness", s.Schedule.Mode)
	}

	validator := planner.NewValidator(catalog)
	seen := map[string]bool{}
	for i := range s.Panels {
		p := &s.Panels[i]
		if p.ID == "" {
			return fmt.Errorf("panel %d has no id", i)
		}
		key := strings.ToLower(p.ID)
		if seen[key] {
			return fmt.Errorf("panel id %q is duplicated", p.ID)
		}
		seen[key] = true
		switch strings.ToLower(p.Type) {
		case PanelMetric, PanelChart, PanelTimeseries, PanelTable:
		default:
			return fmt.Errorf("panel %q has unknown type %q", p.ID, p.Type)
		}
		if err := validator.Validate(p.Plan()); err != nil {
			return fmt.Errorf("panel %q: %w", p.ID, err)
		}
	}
	return nil
}
