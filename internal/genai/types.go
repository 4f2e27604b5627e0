package genai

import (
	"context"
	"errors"
	"time"
)

// FallbackReply is rendered when the model response carries no text.
const FallbackReply = "No response from model."

var (
	ErrEmptyPrompt   = errors.New("prompt must not be empty")
	ErrMissingAPIKey = errors.New("api key is required")
)

// Request describes one generation call.
type Request struct {
	SessionID       string
	Prompt          string
	APIKey          string
	MaxOutputTokens int
	Temperature     float64
	TraceID         string
}

// Reply is the extracted model output. Fallback marks a response that
// arrived without a text field.
type Reply struct {
	SessionID        string
	Text             string
	Fallback         bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	TraceID          string
}

// Generator defines a pluggable text-generation backend.
type Generator interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}
