// Package llmsummary enriches describe_tools' full-detail output with a
// short operator-facing explanation of what a tool does, generated through
// any-llm-go's unified chat-completion interface, adapted from
// MrWong99-glyphoxa's pkg/provider/llm/anyllm wrapper down to the single
// one-shot completion call this broker needs.
package llmsummary

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	"github.com/mozilla-ai/any-llm-go/providers/openai"
)

// Summarizer turns a tool's raw name, description, and input schema into a
// short natural-language explanation. Callers treat a failure as
// non-fatal: describe_tools still returns the raw description either way.
type Summarizer interface {
	Summarize(ctx context.Context, toolName, description string, inputSchema []byte) (string, error)
}

// Provider is the narrow any-llm-go surface this package depends on, so
// tests can substitute a fake without making network calls.
type Provider interface {
	Completion(ctx context.Context, params anyllmlib.CompletionParams) (*anyllmlib.CompletionResponse, error)
}

// AnyLLMSummarizer calls out to whichever any-llm-go backend the operator
// configured (openai, anthropic, gemini, or a local ollama server) to
// produce the explanation.
type AnyLLMSummarizer struct {
	backend Provider
	model   string
}

// New builds an AnyLLMSummarizer for providerName/model, one of "openai",
// "anthropic", "gemini", or "ollama". Without an API key option it falls
// back to the provider's usual environment variable, matching any-llm-go's
// own default credential discovery.
func New(providerName, model string, opts ...anyllmlib.Option) (*AnyLLMSummarizer, error) {
	if model == "" {
		return nil, fmt.Errorf("llmsummary: model must not be empty")
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("llmsummary: create %q backend: %w", providerName, err)
	}
	return &AnyLLMSummarizer{backend: backend, model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "", "openai":
		return openai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported summarize provider %q; supported: openai, anthropic, gemini, ollama", providerName)
	}
}

const systemPrompt = "You explain MCP tool definitions to operators in one concise sentence. " +
	"State what the tool does and when an agent would call it. Do not repeat the schema verbatim."

func (s *AnyLLMSummarizer) Summarize(ctx context.Context, toolName, description string, inputSchema []byte) (string, error) {
	prompt := fmt.Sprintf("Tool %q. Description: %s\nInput schema: %s", toolName, description, inputSchema)

	params := anyllmlib.CompletionParams{
		Model: s.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: anyllmlib.RoleUser, Content: prompt},
		},
	}

	resp, err := s.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llmsummary: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llmsummary: empty choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.ContentString()), nil
}
