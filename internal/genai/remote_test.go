package genai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newServer(t *testing.T, status int, body string, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/v1beta/models/test-model:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") == "" {
			t.Error("missing api key header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateExtractsText(t *testing.T) {
	var hits atomic.Int64
	srv := newServer(t, http.StatusOK,
		`{"candidates":[{"content":{"parts":[{"text":"Hello "},{"text":"there."}]}}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":5}}`,
		&hits)

	gen := NewRemoteGenerator(srv.URL, "test-model", "key", 5*time.Second)
	reply, err := gen.Generate(context.Background(), Request{SessionID: "s1", Prompt: "hi"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply.Text != "Hello there." {
		t.Fatalf("unexpected text: %q", reply.Text)
	}
	if reply.Fallback {
		t.Fatal("unexpected fallback flag")
	}
	if reply.PromptTokens != 3 || reply.CompletionTokens != 5 {
		t.Fatalf("unexpected token counts: %d, %d", reply.PromptTokens, reply.CompletionTokens)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected exactly one request, got %d", hits.Load())
	}
}

func TestGenerateFallbackWhenNoText(t *testing.T) {
	var hits atomic.Int64
	srv := newServer(t, http.StatusOK, `{"candidates":[]}`, &hits)

	gen := NewRemoteGenerator(srv.URL, "test-model", "key", 5*time.Second)
	reply, err := gen.Generate(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !reply.Fallback {
		t.Fatal("expected fallback flag")
	}
	if reply.Text != FallbackReply {
		t.Fatalf("expected fallback text, got %q", reply.Text)
	}
}

func TestGenerateSurfacesServerMessage(t *testing.T) {
	var hits atomic.Int64
	srv := newServer(t, http.StatusBadRequest,
		`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`,
		&hits)

	gen := NewRemoteGenerator(srv.URL, "test-model", "key", 5*time.Second)
	_, err := gen.Generate(context.Background(), Request{Prompt: "hi"})
	if err == nil || !strings.Contains(err.Error(), "API key not valid") {
		t.Fatalf("expected server message in error, got %v", err)
	}
}

func TestGenerateSurfacesStatusCode(t *testing.T) {
	var hits atomic.Int64
	srv := newServer(t, http.StatusServiceUnavailable, `upstream unavailable`, &hits)

	gen := NewRemoteGenerator(srv.URL, "test-model", "key", 5*time.Second)
	_, err := gen.Generate(context.Background(), Request{Prompt: "hi"})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status code in error, got %v", err)
	}
}

func TestGenerateValidatesBeforeNetwork(t *testing.T) {
	var hits atomic.Int64
	srv := newServer(t, http.StatusOK, `{}`, &hits)

	gen := NewRemoteGenerator(srv.URL, "test-model", "", 5*time.Second)

	if _, err := gen.Generate(context.Background(), Request{Prompt: "   "}); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
	if _, err := gen.Generate(context.Background(), Request{Prompt: "hi"}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("validation failures must not reach the network, got %d requests", hits.Load())
	}
}

func TestGenerateRequestKeyOverridesConfigured(t *testing.T) {
	var gotKey atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey.Store(r.Header.Get("x-goog-api-key"))
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	t.Cleanup(srv.Close)

	gen := NewRemoteGenerator(srv.URL, "test-model", "configured", 5*time.Second)
	if _, err := gen.Generate(context.Background(), Request{Prompt: "hi", APIKey: "caller"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := gotKey.Load(); got != "caller" {
		t.Fatalf("expected caller key, got %v", got)
	}
}
