// Package llm defines the streaming completion interface the agent loop
// drives. Unlike a function-calling API, a llmist provider only ever needs
// to stream raw assistant text: gadget calls are embedded marker text the
// parser (pkg/parser) extracts downstream, so there is no separate
// structured tool-call channel here.
package llm

import (
	"context"

	"github.com/zbigniewsobiecki/llmist/pkg/models"
)

// Request is one completion request: a system prompt and the conversation
// so far.
type Request struct {
	Model     string
	System    string
	Messages  []models.Message
	MaxTokens int
}

// Chunk is one piece of a streaming completion. Exactly one of Text being
// non-empty, Done being true, or Err being non-nil is the meaningful case
// for a given chunk; a final chunk sets Done and optionally Usage/
// FinishReason.
type Chunk struct {
	Text         string
	Done         bool
	FinishReason string
	Usage        *models.Usage

	Err       error
	Retryable bool
}

// Provider is the interface an LLM backend implements. Complete must be
// safe for concurrent use across different requests, mirroring nexus's
// LLMProvider contract (internal/agent/provider_types.go): implementations
// back different APIs (Anthropic, OpenAI, a local model, or — for tests and
// the demo CLI — a deterministic scripted provider) behind one streaming
// shape.
type Provider interface {
	Complete(ctx context.Context, req Request) (<-chan Chunk, error)
	Name() string
}
