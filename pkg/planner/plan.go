// Package planner compiles a natural-language intent into a validated
// QueryPlan. Two compile paths exist: an LLM compiler whose output is never
// trusted, and a deterministic regex fallback. Both feed the same validator,
// which checks every identifier against the schema contract.
package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cklose2000/eventlake/pkg/events"
)

// MaxRows is the hard ceiling on top_n and on returned row counts. Caller
// budgets may only lower it.
const MaxRows = 10000

// AggFn is an allowed aggregate function.
type AggFn string

// Allowed aggregate functions.
const (
	FnCount         AggFn = "COUNT"
	FnSum           AggFn = "SUM"
	FnAvg           AggFn = "AVG"
	FnMin           AggFn = "MIN"
	FnMax           AggFn = "MAX"
	FnCountDistinct AggFn = "COUNT_DISTINCT"
)

// ValidFn reports whether fn is one of the allowed aggregates.
func ValidFn(fn AggFn) bool {
	switch AggFn(strings.ToUpper(string(fn))) {
	case FnCount, FnSum, FnAvg, FnMin, FnMax, FnCountDistinct:
		return true
	}
	return false
}

// Measure is an aggregate over a source column.
type Measure struct {
	Fn     AggFn  `json:"fn"`
	Column string `json:"column"`
}

// OutputName is the result column name for a measure: FN_COLUMN. When two
// measures collide the executor appends _2, _3, … suffixes.
func (m Measure) OutputName() string {
	return strings.ToUpper(string(m.Fn)) + "_" + strings.ToUpper(m.Column)
}

// Filter is one conjunct of the plan's filter list.
type Filter struct {
	Column string `json:"column"`
	Op     string `json:"op"` // =, !=, <, <=, >, >=, IN, BETWEEN
	Value  any    `json:"value"`
}

// validOps are the comparison operators a filter may carry.
var validOps = map[string]bool{
	"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
	"IN": true, "BETWEEN": true,
}

// Order is one ordering term.
type Order struct {
	Column    string `json:"column"`
	Direction string `json:"direction"` // ASC or DESC
}

// Window restricts a plan to a trailing period. Exactly one field is set.
type Window struct {
	Days     int `json:"days,omitempty"`
	Weeks    int `json:"weeks,omitempty"`
	Months   int `json:"months,omitempty"`
	Quarters int `json:"quarters,omitempty"`
	Years    int `json:"years,omitempty"`
}

// ApproxDays converts the window to an approximate day count for rendering.
func (w *Window) ApproxDays() int {
	switch {
	case w.Days > 0:
		return w.Days
	case w.Weeks > 0:
		return w.Weeks * 7
	case w.Months > 0:
		return w.Months * 30
	case w.Quarters > 0:
		return w.Quarters * 91
	case w.Years > 0:
		return w.Years * 365
	}
	return 0
}

// Plan is the validated, structured description of a query. It is a value
// object: constructed per request, discarded after execution, with its
// validated form recorded as an event.
type Plan struct {
	Source     string         `json:"source"`
	Dimensions []string       `json:"dimensions,omitempty"`
	Measures   []Measure      `json:"measures,omitempty"`
	Filters    []Filter       `json:"filters,omitempty"`
	GroupBy    []string       `json:"group_by,omitempty"`
	OrderBy    []Order        `json:"order_by,omitempty"`
	TopN       *int           `json:"top_n,omitempty"`
	Window     *Window        `json:"window,omitempty"`
	Grain      string         `json:"grain,omitempty"` // hour, day, week, month
	Template   string         `json:"template,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

// Hash returns the stable content hash of the plan, used in query tags and
// execution events.
func (p *Plan) Hash() (string, error) {
	canonical, err := events.CanonicalJSON(p)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize plan: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
