// Package providers implements inference-service clients over net/http.
package providers

import "context"

// GenerateRequest is the input to one inference call.
type GenerateRequest struct {
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"` // overrides the provider default
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`

	// SafetyProfile is an opaque guardrail profile identifier forwarded to
	// the inference gateway; empty means none.
	SafetyProfile string `json:"safety_profile,omitempty"`
}

// Provider is the interface all inference providers implement.
type Provider interface {
	// Generate sends the prompt and returns the generated text.
	Generate(ctx context.Context, req GenerateRequest) (string, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}
