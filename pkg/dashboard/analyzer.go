package dashboard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cklose2000/eventlake/pkg/planner"
)

// DefaultConfidenceThreshold is the minimum analyzer confidence below which
// dashboard creation terminates instead of guessing.
const DefaultConfidenceThreshold = 0.3

// Intent is what the analyzer extracted from a conversation.
type Intent struct {
	Topics     []string
	Confidence float64
}

// topicRule maps conversation keywords to a panel topic.
type topicRule struct {
	topic string
	re    *regexp.Regexp
}

var topicRules = []topicRule{
	{"activity_breakdown", regexp.MustCompile(`(?i)\b(activit|event count|action|top tool)`)},
	{"llm_performance", regexp.MustCompile(`(?i)\b(llm|model|token|prompt|completion|latency)`)},
	{"sql_cost", regexp.MustCompile(`(?i)\b(sql|quer(y|ies)|bytes scanned|cost|warehouse)`)},
	{"dashboard_ops", regexp.MustCompile(`(?i)\b(dashboard (op|version|publish|rollback))`)},
	{"template_usage", regexp.MustCompile(`(?i)\btemplate`)},
	{"activity_summary", regexp.MustCompile(`(?i)\b(summary|overview|daily total|trend)`)},
}

// Analyzer extracts a dashboard intent from free conversation text.
type Analyzer struct {
	Threshold float64
}

// Analyze scans the conversation for topic keywords. Confidence grows with
// the number of distinct topics matched and saturates at 1.
func (a *Analyzer) Analyze(conversation string) Intent {
	var topics []string
	for _, rule := range topicRules {
		if rule.re.MatchString(conversation) {
			topics = append(topics, rule.topic)
		}
	}
	confidence := float64(len(topics)) * 0.4
	if confidence > 1 {
		confidence = 1
	}
	return Intent{Topics: topics, Confidence: confidence}
}

func (a *Analyzer) threshold() float64 {
	if a.Threshold > 0 {
		return a.Threshold
	}
	return DefaultConfidenceThreshold
}

// panelTemplates maps a topic to its panel. IDs double as artifact name
// stems, so they stay slug-shaped.
var panelTemplates = map[string]Panel{
	"activity_breakdown": {
		ID: "activity_breakdown", Type: PanelChart,
		Source:   "ACTIVITY.VW_ACTIVITY_COUNTS_24H",
		Measures: []planner.Measure{{Fn: planner.FnSum, Column: "EVENT_COUNT"}},
		GroupBy:  []string{"ACTIVITY"},
		TopN:     intPtr(10),
	},
	"llm_performance": {
		ID: "llm_performance", Type: PanelTimeseries,
		Source: "ACTIVITY.VW_LLM_TELEMETRY",
		Measures: []planner.Measure{
			{Fn: planner.FnAvg, Column: "LATENCY_MS"},
			{Fn: planner.FnSum, Column: "COMPLETION_TOKENS"},
		},
		Window: &planner.Window{Days: 7},
		Grain:  "day",
	},
	"sql_cost": {
		ID: "sql_cost", Type: PanelChart,
		Source: "ACTIVITY.VW_SQL_EXECUTIONS",
		Measures: []planner.Measure{
			{Fn: planner.FnSum, Column: "BYTES"},
			{Fn: planner.FnAvg, Column: "ELAPSED_MS"},
		},
		GroupBy: []string{"TEMPLATE"},
	},
	"dashboard_ops": {
		ID: "dashboard_ops", Type: PanelTable,
		Source:   "ACTIVITY.VW_DASHBOARD_OPS",
		Measures: []planner.Measure{{Fn: planner.FnCount, Column: "OPERATION"}},
		GroupBy:  []string{"DASHBOARD_NAME", "OPERATION"},
	},
	"template_usage": {
		ID: "template_usage", Type: PanelChart,
		Source:   "ACTIVITY.VW_TEMPLATE_USAGE",
		Measures: []planner.Measure{{Fn: planner.FnSum, Column: "USE_COUNT"}},
		GroupBy:  []string{"TEMPLATE"},
		TopN:     intPtr(10),
	},
	"activity_summary": {
		ID: "activity_summary", Type: PanelTimeseries,
		Source:   "ACTIVITY.VW_ACTIVITY_SUMMARY",
		Measures: []planner.Measure{{Fn: planner.FnSum, Column: "TOTAL_EVENTS"}},
		Window:   &planner.Window{Days: 30},
		Grain:    "day",
	},
}

// GenerateSpec drafts a dashboard spec from an analyzed conversation. It
// fails below the confidence threshold so a vague conversation never ships
// a guessed dashboard.
func (a *Analyzer) GenerateSpec(name, conversation string, schedule Schedule, contractVersion string) (*Spec, error) {
	intent := a.Analyze(conversation)
	if intent.Confidence < a.threshold() {
		return nil, fmt.Errorf("conversation is too vague to draft a dashboard (confidence %.2f)", intent.Confidence)
	}

	spec := &Spec{
		Name:            strings.ToLower(strings.TrimSpace(name)),
		Timezone:        "UTC",
		Schedule:        schedule,
		ContractVersion: contractVersion,
	}
	for _, topic := range intent.Topics {
		if tpl, ok := panelTemplates[topic]; ok {
			spec.Panels = append(spec.Panels, tpl)
		}
	}
	spec.Canonicalize()
	return spec, nil
}

func intPtr(n int) *int { return &n }
