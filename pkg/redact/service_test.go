package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact(t *testing.T) {
	s := NewService(nil)

	t.Run("replaces emails", func(t *testing.T) {
		out, counts := s.Redact("contact alice@example.com or bob@corp.io")
		assert.Equal(t, "contact [EMAIL] or [EMAIL]", out)
		assert.Equal(t, 2, counts["email"])
	})

	t.Run("replaces phone numbers", func(t *testing.T) {
		out, counts := s.Redact("call 555-123-4567 please")
		assert.Equal(t, "call [PHONE] please", out)
		assert.Equal(t, 1, counts["phone"])
	})

	t.Run("replaces phone formats", func(t *testing.T) {
		for _, in := range []string{"+1 555 123 4567", "(555) 123-4567", "555.123.4567", "1-555-123-4567"} {
			out, counts := s.Redact(in)
			assert.Contains(t, out, "[PHONE]", in)
			assert.Equal(t, 1, counts["phone"], in)
		}
	})

	t.Run("replaces long digit runs", func(t *testing.T) {
		out, counts := s.Redact("account 123456789012")
		assert.Equal(t, "account [NUMBER]", out)
		assert.Equal(t, 1, counts["digit_run"])
	})

	t.Run("clean text returns nil counts", func(t *testing.T) {
		out, counts := s.Redact("top 5 activities by event count")
		assert.Equal(t, "top 5 activities by event count", out)
		assert.Nil(t, counts)
	})

	t.Run("invalid custom pattern is skipped", func(t *testing.T) {
		svc := NewService([]Pattern{{Name: "bad", Pattern: "([", Placeholder: "[X]"}})
		out, _ := svc.Redact("nothing to see")
		assert.Equal(t, "nothing to see", out)
	})
}

func TestRedactAttributes(t *testing.T) {
	s := NewService(nil)

	attrs := map[string]any{
		"natural_language": "email me at carol@example.com",
		"tool":             "bash",
		"count":            3,
	}
	counts := s.RedactAttributes(attrs, []string{"natural_language", "tool", "missing"})
	require.NotNil(t, counts)
	assert.Equal(t, "email me at [EMAIL]", attrs["natural_language"])
	assert.Equal(t, "bash", attrs["tool"])
	assert.Equal(t, 1, counts["natural_language.email"])
}
