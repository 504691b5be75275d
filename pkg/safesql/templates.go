// Package safesql renders the whitelisted SQL templates. It is the only
// place in the system that produces SQL text for user queries. Identifiers
// are substituted from the schema contract, never from user strings, and
// every value travels as a bound parameter.
package safesql

import (
	"fmt"
	"strings"

	"github.com/cklose2000/eventlake/pkg/contract"
	"github.com/cklose2000/eventlake/pkg/planner"
)

// Template names, matching the registry in the contract catalog.
const (
	TemplateDescribeSource = "describe_source"
	TemplateSampleTop      = "sample_top"
	TemplateTopN           = "top_n"
	TemplateTimeSeries     = "time_series"
	TemplateBreakdown      = "breakdown"
	TemplateComparison     = "comparison"
)

// defaultSampleRows bounds sample_top when the plan does not set top_n.
const defaultSampleRows = 10

// Statement is a rendered template: SQL with positional binds.
type Statement struct {
	Template string
	SQL      string
	Binds    []any
}

// Select picks the template for a plan. A plan that names a template uses
// it directly; otherwise the template follows the plan shape.
func Select(p *planner.Plan) string {
	if p.Template != "" {
		return strings.ToLower(p.Template)
	}
	switch {
	case p.Grain != "":
		return TemplateTimeSeries
	case p.TopN != nil && len(p.Measures) > 0:
		return TemplateTopN
	case len(p.Measures) > 0:
		return TemplateBreakdown
	default:
		return TemplateSampleTop
	}
}

// Render produces the statement for a validated plan. Rendering a plan that
// has not passed the validator is a programming error; Render still refuses
// identifiers it cannot find in the catalog source.
func Render(template string, p *planner.Plan, src *contract.SourceDef) (*Statement, error) {
	switch strings.ToLower(template) {
	case TemplateDescribeSource:
		return renderDescribe(src)
	case TemplateSampleTop:
		return renderSampleTop(p, src)
	case TemplateTopN, TemplateBreakdown:
		return renderAggregate(template, p, src)
	case TemplateTimeSeries:
		return renderTimeSeries(p, src)
	case TemplateComparison:
		return renderComparison(p, src)
	default:
		return nil, fmt.Errorf("unknown template %q", template)
	}
}

// renderDescribe returns column metadata for a source.
func renderDescribe(src *contract.SourceDef) (*Statement, error) {
	schema, object, err := splitName(src.Name)
	if err != nil {
		return nil, err
	}
	return &Statement{
		Template: TemplateDescribeSource,
		SQL: "SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS " +
			"WHERE UPPER(TABLE_SCHEMA) = $1 AND UPPER(TABLE_NAME) = $2 ORDER BY ORDINAL_POSITION",
		Binds: []any{strings.ToUpper(schema), strings.ToUpper(object)},
	}, nil
}

// renderSampleTop is the only template permitted to emit SELECT *.
func renderSampleTop(p *planner.Plan, src *contract.SourceDef) (*Statement, error) {
	n := defaultSampleRows
	if p.TopN != nil {
		n = *p.TopN
	}
	if v, ok := p.Params["n"]; ok {
		if parsed, ok := toInt(v); ok {
			n = parsed
		}
	}
	return &Statement{
		Template: TemplateSampleTop,
		SQL:      fmt.Sprintf("SELECT * FROM %s LIMIT $1", src.Name),
		Binds:    []any{n},
	}, nil
}

// renderAggregate covers top_n and breakdown; they share shape, differing
// only in whether a row limit applies.
func renderAggregate(template string, p *planner.Plan, src *contract.SourceDef) (*Statement, error) {
	var b strings.Builder
	var binds []any

	selects, err := selectList(p, src)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(selects, ", "), src.Name)

	where, whereBinds, err := whereClause(p, src, len(binds))
	if err != nil {
		return nil, err
	}
	b.WriteString(where)
	binds = append(binds, whereBinds...)

	if groupBy := groupList(p, src); len(groupBy) > 0 {
		fmt.Fprintf(&b, " GROUP BY %s", strings.Join(groupBy, ", "))
	}

	orderBy, err := orderClause(p, src)
	if err != nil {
		return nil, err
	}
	b.WriteString(orderBy)

	if strings.EqualFold(template, TemplateTopN) {
		n := planner.MaxRows
		if p.TopN != nil {
			n = *p.TopN
		}
		fmt.Fprintf(&b, " LIMIT $%d", len(binds)+1)
		binds = append(binds, n)
	}

	return &Statement{Template: strings.ToLower(template), SQL: b.String(), Binds: binds}, nil
}

// renderTimeSeries buckets a measure by grain over the plan window.
func renderTimeSeries(p *planner.Plan, src *contract.SourceDef) (*Statement, error) {
	timeCol, err := timeColumn(src)
	if err != nil {
		return nil, err
	}
	grain, err := grainLiteral(p.Grain)
	if err != nil {
		return nil, err
	}
	if len(p.Measures) == 0 {
		return nil, fmt.Errorf("time_series requires a measure")
	}
	measure, err := measureExpr(p.Measures[0], src, p.Measures[0].OutputName())
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	var binds []any
	fmt.Fprintf(&b, "SELECT DATE_TRUNC('%s', %s) AS BUCKET", grain, timeCol)
	for _, dim := range p.Dimensions {
		col, err := canonicalColumn(src, dim)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, ", %s", col)
	}
	fmt.Fprintf(&b, ", %s FROM %s", measure, src.Name)

	days := 0
	if p.Window != nil {
		days = p.Window.ApproxDays()
	}
	if days > 0 {
		fmt.Fprintf(&b, " WHERE %s >= NOW() - MAKE_INTERVAL(days => $1)", timeCol)
		binds = append(binds, days)
	}

	groupCols := []string{"BUCKET"}
	for _, dim := range p.Dimensions {
		col, _ := canonicalColumn(src, dim)
		groupCols = append(groupCols, col)
	}
	fmt.Fprintf(&b, " GROUP BY %s ORDER BY BUCKET ASC", strings.Join(groupCols, ", "))

	return &Statement{Template: TemplateTimeSeries, SQL: b.String(), Binds: binds}, nil
}

// renderComparison aggregates measures over two bound time ranges.
func renderComparison(p *planner.Plan, src *contract.SourceDef) (*Statement, error) {
	timeCol, err := timeColumn(src)
	if err != nil {
		return nil, err
	}
	before, err := rangeParam(p.Params, "before")
	if err != nil {
		return nil, err
	}
	after, err := rangeParam(p.Params, "after")
	if err != nil {
		return nil, err
	}
	if len(p.Measures) == 0 {
		return nil, fmt.Errorf("comparison requires at least one measure")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT CASE WHEN %s BETWEEN $1 AND $2 THEN 'BEFORE' ELSE 'AFTER' END AS PERIOD", timeCol)
	for i, m := range p.Measures {
		expr, err := measureExpr(m, src, aliasFor(p.Measures, i))
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, ", %s", expr)
	}
	fmt.Fprintf(&b, " FROM %s WHERE %s BETWEEN $1 AND $2 OR %s BETWEEN $3 AND $4 GROUP BY 1",
		src.Name, timeCol, timeCol)

	return &Statement{
		Template: TemplateComparison,
		SQL:      b.String(),
		Binds:    []any{before[0], before[1], after[0], after[1]},
	}, nil
}
