package planner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cklose2000/eventlake/pkg/contract"
)

// RegexCompiler is the deterministic fallback path: a fixed keyphrase table
// mapped onto the catalog. For the same intent and catalog version it
// produces byte-identical plans.
type RegexCompiler struct {
	catalog *contract.Catalog
}

// NewRegexCompiler builds the fallback compiler.
func NewRegexCompiler(catalog *contract.Catalog) *RegexCompiler {
	return &RegexCompiler{catalog: catalog}
}

var (
	topNRe   = regexp.MustCompile(`\btop\s+(\d+)\b`)
	windowRe = regexp.MustCompile(`\b(?:last|past|previous)\s+(\d+)\s+(hour|day|week|month|quarter|year)s?\b`)
	grainRe  = regexp.MustCompile(`\b(?:per|by|each)\s+(hour|day|week|month)\b`)
)

// sourceRule maps intent keyphrases to a catalog source with its default
// shape. Rules are evaluated in order; the first hit wins, which keeps the
// fallback deterministic.
type sourceRule struct {
	keywords   []string
	source     string
	dimensions []string
	measure    Measure
}

// sourceRules is the pattern table. Sample data is last and only recognized
// when the intent explicitly mentions it.
var sourceRules = []sourceRule{
	{
		keywords:   []string{"activities", "activity", "event count", "actions"},
		source:     "ACTIVITY.VW_ACTIVITY_COUNTS_24H",
		dimensions: []string{"ACTIVITY"},
		measure:    Measure{Fn: FnSum, Column: "EVENT_COUNT"},
	},
	{
		keywords:   []string{"llm", "token", "model", "latency", "prompt"},
		source:     "ACTIVITY.VW_LLM_TELEMETRY",
		dimensions: []string{"MODEL"},
		measure:    Measure{Fn: FnAvg, Column: "LATENCY_MS"},
	},
	{
		keywords:   []string{"sql", "queries", "query cost", "bytes scanned", "executions"},
		source:     "ACTIVITY.VW_SQL_EXECUTIONS",
		dimensions: []string{"TEMPLATE"},
		measure:    Measure{Fn: FnSum, Column: "BYTES"},
	},
	{
		keywords:   []string{"dashboard"},
		source:     "ACTIVITY.VW_DASHBOARD_OPS",
		dimensions: []string{"DASHBOARD_NAME"},
		measure:    Measure{Fn: FnCount, Column: "OPERATION"},
	},
	{
		keywords:   []string{"template"},
		source:     "ACTIVITY.VW_TEMPLATE_USAGE",
		dimensions: []string{"TEMPLATE"},
		measure:    Measure{Fn: FnSum, Column: "USE_COUNT"},
	},
	{
		keywords:   []string{"summary", "daily totals", "sessions per"},
		source:     "ACTIVITY.VW_ACTIVITY_SUMMARY",
		dimensions: []string{"DAY"},
		measure:    Measure{Fn: FnSum, Column: "TOTAL_EVENTS"},
	},
	{
		// Legacy transactional data: only when the intent explicitly asks
		// for sample/demo data.
		keywords:   []string{"sample", "demo", "transactional"},
		source:     "SAMPLE.ORDERS",
		dimensions: []string{"REGION"},
		measure:    Measure{Fn: FnSum, Column: "AMOUNT"},
	},
}

// Compile maps the intent onto the pattern table. When no source rule
// matches, a Clarification listing candidate sources is returned instead of
// a plan.
func (c *RegexCompiler) Compile(intent string) (*Plan, *Clarification) {
	lowered := strings.ToLower(intent)

	rule, ok := matchRule(lowered)
	if !ok {
		return nil, &Clarification{
			Question:   "Which data source should this query run against?",
			Candidates: c.catalog.SourceNames(),
		}
	}

	plan := &Plan{
		Source:     rule.source,
		Dimensions: append([]string(nil), rule.dimensions...),
		Measures:   []Measure{rule.measure},
		GroupBy:    append([]string(nil), rule.dimensions...),
	}

	if m := topNRe.FindStringSubmatch(lowered); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			plan.TopN = &n
		}
	}
	if m := windowRe.FindStringSubmatch(lowered); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			plan.Window = buildWindow(n, m[2])
		}
	}
	if m := grainRe.FindStringSubmatch(lowered); m != nil {
		plan.Grain = m[1]
	}

	// Default ordering: first measure descending, then first dimension
	// ascending.
	plan.OrderBy = []Order{{Column: rule.measure.OutputName(), Direction: "DESC"}}
	if len(plan.Dimensions) > 0 {
		plan.OrderBy = append(plan.OrderBy, Order{Column: plan.Dimensions[0], Direction: "ASC"})
	}
	return plan, nil
}

func matchRule(lowered string) (sourceRule, bool) {
	for _, rule := range sourceRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lowered, kw) {
				return rule, true
			}
		}
	}
	return sourceRule{}, false
}

func buildWindow(n int, unit string) *Window {
	switch unit {
	case "hour":
		// Sub-day windows round up to one day.
		return &Window{Days: 1}
	case "day":
		return &Window{Days: n}
	case "week":
		return &Window{Weeks: n}
	case "month":
		return &Window{Months: n}
	case "quarter":
		return &Window{Quarters: n}
	case "year":
		return &Window{Years: n}
	}
	return nil
}
