package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type remoteGenerator struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

// NewRemoteGenerator talks to a generative-language API endpoint. The
// configured key is a fallback; a key supplied on the request wins.
func NewRemoteGenerator(endpoint, model, apiKey string, timeout time.Duration) Generator {
	return &remoteGenerator{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type generatePart struct {
	Text string `json:"text"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generateRequest struct {
	Contents         []generateContent `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content generateContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate issues one POST to the model endpoint. Validation failures
// return before any network I/O happens.
func (g *remoteGenerator) Generate(ctx context.Context, req Request) (Reply, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Reply{}, ErrEmptyPrompt
	}
	key := req.APIKey
	if key == "" {
		key = g.apiKey
	}
	if key == "" {
		return Reply{}, ErrMissingAPIKey
	}

	payload := generateRequest{
		Contents: []generateContent{
			{Parts: []generatePart{{Text: req.Prompt}}},
		},
	}
	if req.MaxOutputTokens > 0 || req.Temperature > 0 {
		payload.GenerationConfig = &generationConfig{
			MaxOutputTokens: req.MaxOutputTokens,
			Temperature:     req.Temperature,
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Reply{}, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.endpoint, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Reply{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", key)

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Reply{}, fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, fmt.Errorf("read model response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorResponse
		if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Error.Message != "" {
			return Reply{}, fmt.Errorf("model API error: %s", errResp.Error.Message)
		}
		return Reply{}, fmt.Errorf("model API returned status %d", resp.StatusCode)
	}

	var genResp generateResponse
	if err := json.Unmarshal(raw, &genResp); err != nil {
		return Reply{}, fmt.Errorf("decode model response: %w", err)
	}

	reply := Reply{
		SessionID:        req.SessionID,
		PromptTokens:     genResp.UsageMetadata.PromptTokenCount,
		CompletionTokens: genResp.UsageMetadata.CandidatesTokenCount,
		Latency:          time.Since(start),
		TraceID:          req.TraceID,
	}
	reply.Text = extractText(genResp)
	if reply.Text == "" {
		reply.Text = FallbackReply
		reply.Fallback = true
	}
	return reply, nil
}

func extractText(resp generateResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}
