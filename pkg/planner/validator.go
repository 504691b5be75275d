package planner

import (
	"fmt"
	"strings"

	"github.com/cklose2000/eventlake/pkg/contract"
)

// Validator checks plans against the schema contract. Both compile paths
// run through the same validator; the LLM path is never trusted without it.
type Validator struct {
	catalog *contract.Catalog
}

// NewValidator builds a validator over the given catalog.
func NewValidator(catalog *contract.Catalog) *Validator {
	return &Validator{catalog: catalog}
}

// Validate checks every identifier, function and bound in the plan. It
// normalizes column case against the catalog but never rewrites semantics.
func (v *Validator) Validate(p *Plan) error {
	if p == nil || p.Source == "" {
		return &PlanError{Kind: Malformed, Detail: "plan has no source"}
	}

	src, ok := v.catalog.Source(p.Source)
	if !ok {
		return &PlanError{Kind: UnknownSource, Detail: fmt.Sprintf("source %q is not whitelisted", p.Source)}
	}
	p.Source = src.Name

	for _, col := range p.Dimensions {
		if !src.HasColumn(col) {
			return &PlanError{Kind: UnknownColumn, Detail: fmt.Sprintf("dimension %q not declared on %s", col, src.Name)}
		}
	}

	for _, m := range p.Measures {
		if !ValidFn(m.Fn) {
			return &PlanError{Kind: UnknownFunction, Detail: fmt.Sprintf("aggregate %q is not allowed", m.Fn)}
		}
		if !src.HasColumn(m.Column) {
			return &PlanError{Kind: UnknownColumn, Detail: fmt.Sprintf("measure column %q not declared on %s", m.Column, src.Name)}
		}
	}

	for _, f := range p.Filters {
		if !src.HasColumn(f.Column) {
			return &PlanError{Kind: UnknownColumn, Detail: fmt.Sprintf("filter column %q not declared on %s", f.Column, src.Name)}
		}
		if !validOps[strings.ToUpper(f.Op)] {
			return &PlanError{Kind: Malformed, Detail: fmt.Sprintf("filter operator %q is not allowed", f.Op)}
		}
	}

	for _, col := range p.GroupBy {
		if !containsFold(p.Dimensions, col) {
			return &PlanError{Kind: UnknownColumn, Detail: fmt.Sprintf("group_by column %q is not a declared dimension", col)}
		}
	}

	for _, o := range p.OrderBy {
		if !v.orderable(p, src, o.Column) {
			return &PlanError{Kind: UnknownColumn, Detail: fmt.Sprintf("order_by column %q is neither a source column nor a measure output", o.Column)}
		}
		dir := strings.ToUpper(o.Direction)
		if dir != "" && dir != "ASC" && dir != "DESC" {
			return &PlanError{Kind: Malformed, Detail: fmt.Sprintf("order direction %q is not ASC or DESC", o.Direction)}
		}
	}

	if p.TopN != nil && (*p.TopN < 1 || *p.TopN > MaxRows) {
		return &PlanError{Kind: OutOfBudget, Detail: fmt.Sprintf("top_n %d outside [1, %d]", *p.TopN, MaxRows)}
	}

	if p.Template != "" {
		if err := v.validateTemplate(p, src); err != nil {
			return err
		}
	}
	return nil
}

// validateTemplate checks template mode: the template must be registered and
// params must be complete with no unknown keys.
func (v *Validator) validateTemplate(p *Plan, src *contract.SourceDef) error {
	if !v.catalog.HasTemplate(p.Template) {
		return &PlanError{Kind: TemplateMismatch, Detail: fmt.Sprintf("template %q is not registered", p.Template)}
	}
	required, optional := templateParams(p.Template)
	for _, name := range required {
		if _, ok := p.Params[name]; !ok {
			return &PlanError{Kind: TemplateMismatch, Detail: fmt.Sprintf("template %q missing param %q", p.Template, name)}
		}
	}
	for name := range p.Params {
		if !containsFold(required, name) && !containsFold(optional, name) {
			return &PlanError{Kind: TemplateMismatch, Detail: fmt.Sprintf("template %q does not accept param %q", p.Template, name)}
		}
	}
	return nil
}

// templateParams enumerates the parameter surface of each SafeSQL template.
func templateParams(template string) (required, optional []string) {
	switch strings.ToLower(template) {
	case "describe_source":
		return nil, nil
	case "sample_top":
		return []string{"n"}, nil
	case "top_n":
		return []string{"n"}, []string{"dims", "measures", "order"}
	case "time_series":
		return []string{"grain", "measure"}, []string{"dims", "window"}
	case "breakdown":
		return []string{"dims", "measures"}, []string{"window"}
	case "comparison":
		return []string{"before", "after", "measures"}, nil
	}
	return nil, nil
}

func (v *Validator) orderable(p *Plan, src *contract.SourceDef, col string) bool {
	if src.HasColumn(col) {
		return true
	}
	for _, m := range p.Measures {
		if strings.EqualFold(m.OutputName(), col) {
			return true
		}
	}
	return false
}

func containsFold(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}
