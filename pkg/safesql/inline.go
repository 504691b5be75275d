package safesql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// Inline substitutes the statement's binds as SQL literals, for the one
// context that cannot carry parameters: view definitions created by the
// dashboard factory. Values are typed strictly; anything outside the closed
// literal set is refused rather than stringified.
func (s *Statement) Inline() (string, error) {
	var firstErr error
	sql := placeholderRe.ReplaceAllStringFunc(s.SQL, func(ph string) string {
		idx, err := strconv.Atoi(ph[1:])
		if err != nil || idx < 1 || idx > len(s.Binds) {
			if firstErr == nil {
				firstErr = fmt.Errorf("placeholder %s has no bind", ph)
			}
			return ph
		}
		lit, err := literal(s.Binds[idx-1])
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return ph
		}
		return lit
	})
	if firstErr != nil {
		return "", firstErr
	}
	return sql, nil
}

func literal(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if val {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.Itoa(val), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case string:
		return quote(val), nil
	case time.Time:
		return quote(val.UTC().Format(time.RFC3339Nano)) + "::timestamptz", nil
	case []any:
		parts := make([]string, len(val))
		for i, el := range val {
			lit, err := literal(el)
			if err != nil {
				return "", err
			}
			parts[i] = lit
		}
		return "ARRAY[" + strings.Join(parts, ", ") + "]", nil
	case []string:
		parts := make([]string, len(val))
		for i, el := range val {
			parts[i] = quote(el)
		}
		return "ARRAY[" + strings.Join(parts, ", ") + "]", nil
	default:
		return "", fmt.Errorf("cannot inline bind of type %T", v)
	}
}

// quote produces a standard-conforming string literal. Doubling the quote
// is the entire escape surface; no backslash escapes.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
