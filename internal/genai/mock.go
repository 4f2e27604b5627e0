package genai

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request) (Reply, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Reply{}, ErrEmptyPrompt
	}
	select {
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	return Reply{
		SessionID: req.SessionID,
		Text:      "[mock reply for " + strings.TrimSpace(req.Prompt) + "]",
		Latency:   20 * time.Millisecond,
		TraceID:   req.TraceID,
	}, nil
}
