package safesql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineSubstitutesTypedLiterals(t *testing.T) {
	stmt := &Statement{
		SQL:   "SELECT A FROM T WHERE B = $1 AND C = ANY($2) AND D > $3 LIMIT $4",
		Binds: []any{"x", []string{"p", "q"}, 1.5, 10},
	}
	sql, err := stmt.Inline()
	require.NoError(t, err)
	assert.Equal(t, "SELECT A FROM T WHERE B = 'x' AND C = ANY(ARRAY['p', 'q']) AND D > 1.5 LIMIT 10", sql)
}

func TestInlineEscapesQuotes(t *testing.T) {
	stmt := &Statement{
		SQL:   "SELECT A FROM T WHERE B = $1",
		Binds: []any{"O'Brien'; DROP TABLE LANDING.EVENTS; --"},
	}
	sql, err := stmt.Inline()
	require.NoError(t, err)
	assert.Equal(t, "SELECT A FROM T WHERE B = 'O''Brien''; DROP TABLE LANDING.EVENTS; --'", sql)
}

func TestInlineRefusesUnknownTypes(t *testing.T) {
	stmt := &Statement{
		SQL:   "SELECT A FROM T WHERE B = $1",
		Binds: []any{struct{ X int }{1}},
	}
	_, err := stmt.Inline()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot inline")
}

func TestInlineRefusesDanglingPlaceholder(t *testing.T) {
	stmt := &Statement{SQL: "SELECT A FROM T LIMIT $2", Binds: []any{1}}
	_, err := stmt.Inline()
	require.Error(t, err)
}
