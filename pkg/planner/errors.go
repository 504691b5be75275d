package planner

import "fmt"

// ErrorKind classifies plan rejection reasons.
type ErrorKind string

// Plan error kinds.
const (
	UnknownSource    ErrorKind = "unknown_source"
	UnknownColumn    ErrorKind = "unknown_column"
	UnknownFunction  ErrorKind = "unknown_function"
	OutOfBudget      ErrorKind = "out_of_budget"
	TemplateMismatch ErrorKind = "template_mismatch"
	Malformed        ErrorKind = "malformed"
)

// PlanError rejects a plan during validation.
type PlanError struct {
	Kind   ErrorKind
	Detail string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("plan rejected (%s): %s", e.Kind, e.Detail)
}

// Clarification is returned when no source could be inferred from the
// intent. The caller is expected to pick one of the candidates and retry.
type Clarification struct {
	Question   string   `json:"question"`
	Candidates []string `json:"candidates"`
}
