package planner

import (
	"context"
	"log/slog"
)

// Composer drives the two compile paths. The LLM path runs first when
// configured; its output must pass validation or the deterministic regex
// fallback takes over. Compose never returns an unvalidated plan.
type Composer struct {
	llm       Compiler // nil when no LLM is configured
	fallback  *RegexCompiler
	validator *Validator
}

// NewComposer wires the compile paths. llm may be nil.
func NewComposer(llm Compiler, fallback *RegexCompiler, validator *Validator) *Composer {
	return &Composer{llm: llm, fallback: fallback, validator: validator}
}

// Compose compiles and validates an intent. Exactly one of plan and
// clarification is non-nil on success.
func (c *Composer) Compose(ctx context.Context, intent string, hints map[string]any) (*Plan, *Clarification, error) {
	if c.llm != nil {
		plan, err := c.llm.Compile(ctx, intent, hints)
		if err == nil {
			if verr := c.validator.Validate(plan); verr == nil {
				return plan, nil, nil
			} else {
				slog.Warn("LLM plan failed validation, using regex fallback",
					"intent_len", len(intent), "error", verr)
			}
		} else {
			slog.Warn("LLM compile unavailable, using regex fallback", "error", err)
		}
	}

	plan, clarification := c.fallback.Compile(intent)
	if clarification != nil {
		return nil, clarification, nil
	}
	if err := c.validator.Validate(plan); err != nil {
		return nil, nil, err
	}
	return plan, nil, nil
}

// Validate exposes the shared validator for externally supplied plans.
func (c *Composer) Validate(p *Plan) error {
	return c.validator.Validate(p)
}
