package ai

import "context"

// Options are the generation knobs passed through to the provider.
type Options struct {
	MaxOutputTokens int
	Temperature     float64
	TopP            float64
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens int
	OutputTokens int
	TotalTokens  int
}

// Result is one completed generation. Usage is nil when the provider
// did not report token counts; callers fall back to estimation.
type Result struct {
	Text  string
	Usage *Usage
}

type Provider interface {
	Generate(ctx context.Context, prompt string, opts Options) (*Result, error)
}
