package llmsummary

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/stretchr/testify/assert"
)

func TestNewRejectsEmptyModel(t *testing.T) {
	_, err := New("openai", "")
	assert.Error(t, err)
}

func TestNewRejectsUnsupportedProvider(t *testing.T) {
	_, err := New("not-a-real-provider", "some-model", anyllmlib.WithAPIKey("dummy"))
	assert.Error(t, err)
}

func TestNewOpenAIWithAPIKeySucceeds(t *testing.T) {
	s, err := New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-test"))
	assert.NoError(t, err)
	assert.NotNil(t, s)
}

func TestNewOllamaNeedsNoAPIKey(t *testing.T) {
	s, err := New("ollama", "llama3")
	assert.NoError(t, err)
	assert.NotNil(t, s)
}
