package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Run("expands variables", func(t *testing.T) {
		t.Setenv("EVENTLAKE_TEST_KEY", "sk-test-123")
		out := ExpandEnv([]byte("api_key: {{.EVENTLAKE_TEST_KEY}}"))
		assert.Equal(t, "api_key: sk-test-123", string(out))
	})

	t.Run("missing variable expands to empty", func(t *testing.T) {
		out := ExpandEnv([]byte("api_key: {{.EVENTLAKE_TEST_DOES_NOT_EXIST}}"))
		assert.Equal(t, "api_key: ", string(out))
	})

	t.Run("literal dollar signs pass through", func(t *testing.T) {
		in := []byte(`pattern: "^secret.*$"`)
		assert.Equal(t, in, ExpandEnv(in))
	})

	t.Run("malformed template passes through", func(t *testing.T) {
		in := []byte("broken: {{.UNCLOSED")
		assert.Equal(t, in, ExpandEnv(in))
	})
}
