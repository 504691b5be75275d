package safesql

import (
	"fmt"
	"strings"

	"github.com/cklose2000/eventlake/pkg/contract"
	"github.com/cklose2000/eventlake/pkg/planner"
)

// canonicalColumn maps a plan column onto the catalog's spelling. The
// rendered identifier always comes out of the contract, so user text can
// never reach the statement as an identifier.
func canonicalColumn(src *contract.SourceDef, name string) (string, error) {
	for _, c := range src.Columns {
		if strings.EqualFold(c, name) {
			return c, nil
		}
	}
	return "", fmt.Errorf("column %q not declared on %s", name, src.Name)
}

// measureExpr renders one aggregate with its alias.
func measureExpr(m planner.Measure, src *contract.SourceDef, alias string) (string, error) {
	col, err := canonicalColumn(src, m.Column)
	if err != nil {
		return "", err
	}
	fn := planner.AggFn(strings.ToUpper(string(m.Fn)))
	if fn == planner.FnCountDistinct {
		return fmt.Sprintf("COUNT(DISTINCT %s) AS %s", col, alias), nil
	}
	return fmt.Sprintf("%s(%s) AS %s", fn, col, alias), nil
}

// aliasFor returns the output name for measure i, suffixing _2, _3, … when
// earlier measures produce the same name.
func aliasFor(measures []planner.Measure, i int) string {
	base := measures[i].OutputName()
	n := 1
	for j := 0; j < i; j++ {
		if measures[j].OutputName() == base {
			n++
		}
	}
	if n == 1 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, n)
}

// selectList renders dimensions then measures.
func selectList(p *planner.Plan, src *contract.SourceDef) ([]string, error) {
	var selects []string
	for _, dim := range p.Dimensions {
		col, err := canonicalColumn(src, dim)
		if err != nil {
			return nil, err
		}
		selects = append(selects, col)
	}
	for i, m := range p.Measures {
		expr, err := measureExpr(m, src, aliasFor(p.Measures, i))
		if err != nil {
			return nil, err
		}
		selects = append(selects, expr)
	}
	if len(selects) == 0 {
		return nil, fmt.Errorf("plan selects nothing")
	}
	return selects, nil
}

// groupList renders the GROUP BY columns. When the plan has measures but no
// explicit group_by, all dimensions group.
func groupList(p *planner.Plan, src *contract.SourceDef) []string {
	cols := p.GroupBy
	if len(cols) == 0 && len(p.Measures) > 0 {
		cols = p.Dimensions
	}
	var out []string
	for _, g := range cols {
		if col, err := canonicalColumn(src, g); err == nil {
			out = append(out, col)
		}
	}
	return out
}

// whereClause renders conjunctive filters plus the plan window. Values are
// bound; offset is the number of binds already consumed.
func whereClause(p *planner.Plan, src *contract.SourceDef, offset int) (string, []any, error) {
	var conds []string
	var binds []any
	next := func() int { return offset + len(binds) + 1 }

	for _, f := range p.Filters {
		col, err := canonicalColumn(src, f.Column)
		if err != nil {
			return "", nil, err
		}
		op := strings.ToUpper(f.Op)
		switch op {
		case "IN":
			conds = append(conds, fmt.Sprintf("%s = ANY($%d)", col, next()))
			binds = append(binds, f.Value)
		case "BETWEEN":
			pair, ok := f.Value.([]any)
			if !ok || len(pair) != 2 {
				return "", nil, fmt.Errorf("BETWEEN filter on %s needs a two-element value", col)
			}
			conds = append(conds, fmt.Sprintf("%s BETWEEN $%d AND $%d", col, next(), next()+1))
			binds = append(binds, pair[0], pair[1])
		case "!=":
			conds = append(conds, fmt.Sprintf("%s <> $%d", col, next()))
			binds = append(binds, f.Value)
		case "=", "<", "<=", ">", ">=":
			conds = append(conds, fmt.Sprintf("%s %s $%d", col, op, next()))
			binds = append(binds, f.Value)
		default:
			return "", nil, fmt.Errorf("filter operator %q is not allowed", f.Op)
		}
	}

	if p.Window != nil {
		if days := p.Window.ApproxDays(); days > 0 {
			if timeCol, err := timeColumn(src); err == nil {
				conds = append(conds, fmt.Sprintf("%s >= NOW() - MAKE_INTERVAL(days => $%d)", timeCol, next()))
				binds = append(binds, days)
			}
		}
	}

	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), binds, nil
}

// orderClause renders ORDER BY. Without explicit ordering the first measure
// descends, then the first dimension ascends.
func orderClause(p *planner.Plan, src *contract.SourceDef) (string, error) {
	orders := p.OrderBy
	if len(orders) == 0 {
		if len(p.Measures) > 0 {
			orders = append(orders, planner.Order{Column: p.Measures[0].OutputName(), Direction: "DESC"})
		}
		if len(p.Dimensions) > 0 {
			orders = append(orders, planner.Order{Column: p.Dimensions[0], Direction: "ASC"})
		}
	}
	if len(orders) == 0 {
		return "", nil
	}

	var terms []string
	for _, o := range orders {
		ident := ""
		if col, err := canonicalColumn(src, o.Column); err == nil {
			ident = col
		} else {
			// Measure output aliases are orderable too.
			for i, m := range p.Measures {
				if strings.EqualFold(aliasFor(p.Measures, i), o.Column) || strings.EqualFold(m.OutputName(), o.Column) {
					ident = aliasFor(p.Measures, i)
					break
				}
			}
		}
		if ident == "" {
			return "", fmt.Errorf("order column %q is neither a source column nor a measure output", o.Column)
		}
		dir := strings.ToUpper(o.Direction)
		if dir != "ASC" && dir != "DESC" {
			dir = "DESC"
		}
		terms = append(terms, ident+" "+dir)
	}
	return " ORDER BY " + strings.Join(terms, ", "), nil
}

// timeColumn resolves the source's time axis from the catalog. Sources
// without a recognizable time column cannot serve time-based templates.
func timeColumn(src *contract.SourceDef) (string, error) {
	for _, candidate := range []string{"OCCURRED_AT", "DAY", "LAST_SEEN", "LAST_USED", "ORDER_DATE"} {
		for _, c := range src.Columns {
			if strings.EqualFold(c, candidate) {
				return c, nil
			}
		}
	}
	return "", fmt.Errorf("source %s has no time column", src.Name)
}

// grainLiteral validates a grain against the closed enum. The literal is
// spliced into DATE_TRUNC, so only members of this enum may pass.
func grainLiteral(grain string) (string, error) {
	switch strings.ToLower(grain) {
	case "hour", "day", "week", "month":
		return strings.ToLower(grain), nil
	}
	return "", fmt.Errorf("grain %q is not one of hour, day, week, month", grain)
}

// rangeParam extracts a [start, end] pair from template params.
func rangeParam(params map[string]any, key string) ([2]any, error) {
	var out [2]any
	raw, ok := params[key]
	if !ok {
		return out, fmt.Errorf("missing %q range param", key)
	}
	switch v := raw.(type) {
	case []any:
		if len(v) != 2 {
			return out, fmt.Errorf("%q range needs exactly two elements", key)
		}
		out[0], out[1] = v[0], v[1]
		return out, nil
	case map[string]any:
		start, sok := v["start"]
		end, eok := v["end"]
		if !sok || !eok {
			return out, fmt.Errorf("%q range needs start and end", key)
		}
		out[0], out[1] = start, end
		return out, nil
	}
	return out, fmt.Errorf("%q range has unsupported shape", key)
}

// splitName splits a qualified SCHEMA.OBJECT source name on the first dot.
func splitName(name string) (schema, object string, err error) {
	i := strings.Index(name, ".")
	if i <= 0 || i == len(name)-1 {
		return "", "", fmt.Errorf("source name %q is not schema-qualified", name)
	}
	return name[:i], name[i+1:], nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
