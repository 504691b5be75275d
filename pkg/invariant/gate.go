// Package invariant enforces the two-table law: exactly one writable base
// table (the event landing table) and one derived view exist. The gate is
// invoked before any engine call that could create or alter persistent
// objects, and rejects statements that would create a second base table or
// write outside the landing table.
//
// The check is a strict lexical scan over normalized statement text. Views,
// dynamic and materialized views, tasks, stages and stored procedures pass.
package invariant

import (
	"fmt"
	"regexp"
	"strings"
)

// ViolationKind classifies a two-table violation.
type ViolationKind string

// Violation kinds.
const (
	ExtraTable          ViolationKind = "extra_table"
	WriteOutsideLanding ViolationKind = "write_outside_landing"
)

// Violation is returned when a statement breaks the two-table law.
type Violation struct {
	Kind      ViolationKind
	Statement string
	Object    string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("two-table invariant violation (%s): statement targets %s", v.Kind, v.Object)
}

// Gate checks statements against a configured landing table.
type Gate struct {
	landing string // normalized, schema-qualified, e.g. LANDING.EVENTS
}

// NewGate builds a gate for the given landing table name.
func NewGate(landingTable string) *Gate {
	return &Gate{landing: strings.ToUpper(strings.TrimSpace(landingTable))}
}

var (
	// CREATE [OR REPLACE] [TRANSIENT|TEMPORARY|TEMP] TABLE <name>
	// Deliberately does not match CREATE DYNAMIC TABLE, which is a derived
	// object and allowed.
	createTableRe = regexp.MustCompile(`\bCREATE\s+(?:OR\s+REPLACE\s+)?(?:TRANSIENT\s+|TEMPORARY\s+|TEMP\s+)?TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?([A-Z0-9_.]+)`)

	insertRe   = regexp.MustCompile(`\bINSERT\s+INTO\s+([A-Z0-9_.]+)`)
	mergeRe    = regexp.MustCompile(`\bMERGE\s+INTO\s+([A-Z0-9_.]+)`)
	updateRe   = regexp.MustCompile(`\bUPDATE\s+([A-Z0-9_.]+)\s+SET\b`)
	deleteRe   = regexp.MustCompile(`\bDELETE\s+FROM\s+([A-Z0-9_.]+)`)
	truncateRe = regexp.MustCompile(`\bTRUNCATE\s+(?:TABLE\s+)?([A-Z0-9_.]+)`)
	dropRe     = regexp.MustCompile(`\bDROP\s+TABLE\s+(?:IF\s+EXISTS\s+)?([A-Z0-9_.]+)`)
)

// Check scans a statement and returns a *Violation error when it would
// create a second base table or write outside the landing table. The scan
// runs on normalized text: comments and string literals stripped, whitespace
// collapsed, uppercased, so user-supplied values bound as parameters can
// never influence the verdict.
func (g *Gate) Check(statement string) error {
	norm := Normalize(statement)

	for _, m := range createTableRe.FindAllStringSubmatch(norm, -1) {
		if !g.isLanding(m[1]) {
			return &Violation{Kind: ExtraTable, Statement: statement, Object: m[1]}
		}
	}

	writes := []*regexp.Regexp{insertRe, mergeRe, updateRe, deleteRe, truncateRe, dropRe}
	for _, re := range writes {
		for _, m := range re.FindAllStringSubmatch(norm, -1) {
			if !g.isLanding(m[1]) {
				return &Violation{Kind: WriteOutsideLanding, Statement: statement, Object: m[1]}
			}
		}
	}
	return nil
}

func (g *Gate) isLanding(object string) bool {
	object = strings.ToUpper(object)
	if object == g.landing {
		return true
	}
	// Accept the bare table name when the landing table is schema-qualified.
	if idx := strings.LastIndex(g.landing, "."); idx >= 0 && object == g.landing[idx+1:] {
		return true
	}
	return false
}

// Normalize strips comments and string literal contents, collapses
// whitespace and uppercases the statement.
func Normalize(statement string) string {
	var b strings.Builder
	b.Grow(len(statement))

	inLine, inBlock, inString := false, false, false
	for i := 0; i < len(statement); i++ {
		c := statement[i]
		switch {
		case inLine:
			if c == '\n' {
				inLine = false
				b.WriteByte(' ')
			}
		case inBlock:
			if c == '*' && i+1 < len(statement) && statement[i+1] == '/' {
				inBlock = false
				i++
				b.WriteByte(' ')
			}
		case inString:
			if c == '\'' {
				if i+1 < len(statement) && statement[i+1] == '\'' {
					i++ // escaped quote inside literal
					continue
				}
				inString = false
				b.WriteString("''")
			}
		case c == '-' && i+1 < len(statement) && statement[i+1] == '-':
			inLine = true
			i++
		case c == '/' && i+1 < len(statement) && statement[i+1] == '*':
			inBlock = true
			i++
		case c == '\'':
			inString = true
		default:
			b.WriteByte(c)
		}
	}

	return strings.ToUpper(strings.Join(strings.Fields(b.String()), " "))
}
