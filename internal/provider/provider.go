package provider

import (
	"context"
)

// PromptPair is a fully interpolated system+user prompt. No unresolved
// placeholders may remain by the time it reaches a provider.
type PromptPair struct {
	System string
	User   string
}

type Completion struct {
	ID           string
	Text         string
	InputTokens  int
	OutputTokens int
	Model        string
	Provider     string
}

type Chunk struct {
	Delta string
	Done  bool
	Err   error
}

// Provider is one configured LLM vendor bound to a single model.
type Provider interface {
	Complete(ctx context.Context, pair *PromptPair) (*Completion, error)
	CompleteStream(ctx context.Context, pair *PromptPair) (<-chan *Chunk, error)
	Name() string
	Model() string
	CostPerInputToken() float64 // cost in USD per 1 token
	CostPerOutputToken() float64
}
