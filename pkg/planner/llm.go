package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cklose2000/eventlake/pkg/contract"
)

// Compiler turns an intent into a plan draft. The draft is never trusted:
// every compiled plan runs through the Validator before use.
type Compiler interface {
	Compile(ctx context.Context, intent string, hints map[string]any) (*Plan, error)
}

// LLMCompiler compiles intents with an LLM. The prompt embeds the
// authoritative sources catalog and the allowed plan grammar; the model must
// return a single JSON plan object.
type LLMCompiler struct {
	client  anthropic.Client
	model   string
	catalog *contract.Catalog
}

// NewLLMCompiler builds the LLM path.
func NewLLMCompiler(apiKey, model string, catalog *contract.Catalog) *LLMCompiler {
	return &LLMCompiler{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		catalog: catalog,
	}
}

// Compile sends the intent and parses the returned JSON plan. Any transport
// or parse failure is surfaced; the composer falls back to the regex path.
func (c *LLMCompiler) Compile(ctx context.Context, intent string, hints map[string]any) (*Plan, error) {
	prompt := intent
	if len(hints) > 0 {
		hintJSON, err := json.Marshal(hints)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal hints: %w", err)
		}
		prompt = fmt.Sprintf("%s\n\nStructured hints: %s", intent, hintJSON)
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 1024,
		System:    []anthropic.TextBlockParam{{Text: c.systemPrompt()}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm compile failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	plan, err := ParsePlanJSON(text.String())
	if err != nil {
		return nil, fmt.Errorf("llm returned an unparsable plan: %w", err)
	}
	return plan, nil
}

// systemPrompt renders the sources catalog and plan grammar. User text never
// reaches SQL; the model only names identifiers that the validator will
// check against this same catalog.
func (c *LLMCompiler) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You translate analytics questions into a JSON query plan. ")
	b.WriteString("Respond with exactly one JSON object and nothing else.\n\n")
	b.WriteString("Plan grammar: {source, dimensions[], measures[{fn,column}], filters[{column,op,value}], group_by[], order_by[{column,direction}], top_n, window{days|weeks|months|quarters|years}, grain}\n")
	b.WriteString("Allowed measure fns: COUNT, SUM, AVG, MIN, MAX, COUNT_DISTINCT.\n\n")
	b.WriteString("Available sources (use only these, with only their declared columns):\n")
	for _, src := range c.catalog.Sources {
		fmt.Fprintf(&b, "- %s: %s\n", src.Name, strings.Join(src.Columns, ", "))
		if src.SampleData {
			b.WriteString("  (sample/demo data, use only when the question explicitly asks for sample data)\n")
		}
	}
	return b.String()
}

// ParsePlanJSON parses a JSON plan, tolerating markdown code fences around
// the object.
func ParsePlanJSON(text string) (*Plan, error) {
	trimmed := strings.TrimSpace(text)
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	var plan Plan
	if err := json.Unmarshal([]byte(trimmed), &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	return &plan, nil
}
