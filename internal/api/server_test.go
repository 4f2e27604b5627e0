package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/parleylabs/parley-core/internal/audioclip"
	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/genai"
	"github.com/parleylabs/parley-core/internal/speech"
	"github.com/parleylabs/parley-core/internal/voicechat"
)

func newTestServer(t *testing.T) (*httptest.Server, *voicechat.Manager, *speech.Engine) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	voiceCfg := config.VoiceChatConfig{
		Enabled:     true,
		ClipDir:     t.TempDir(),
		SampleRate:  16000,
		Channels:    1,
		EchoDelayMS: 10,
		EchoSender:  "bot",
	}
	clips, err := audioclip.NewStore(voiceCfg.ClipDir, voiceCfg.SampleRate, voiceCfg.Channels)
	if err != nil {
		t.Fatalf("clip store: %v", err)
	}
	manager := voicechat.NewManager(voiceCfg, clips, logger)
	t.Cleanup(manager.Close)

	speechCfg := config.SpeechConfig{
		Enabled:          true,
		Mode:             "mock",
		DefaultVoice:     "default",
		DefaultLanguage:  "en-US",
		DefaultPitch:     1.0,
		DefaultRate:      1.0,
		SampleRate:       16000,
		Channels:         1,
		ChunkDurationMS:  10,
		StatusIntervalMS: 50,
	}
	synth := speech.NewMockSynth(speechCfg.SampleRate, speechCfg.Channels, speechCfg.ChunkDurationMS)
	engine := speech.NewEngine(speechCfg, synth, logger)
	t.Cleanup(engine.Close)

	server := NewServer(config.Default(), manager, engine, genai.NewMockGenerator(), 2*time.Second, nil, nil, nil, logger)
	mux := http.NewServeMux()
	server.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, manager, engine
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	srv, manager, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/sessions/s1/recording/start", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Starting again while recording is a conflict.
	resp = postJSON(t, srv.URL+"/v1/sessions/s1/recording/start", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double start: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	manager.AppendFrame("s1", make([]byte, 3200))

	resp = postJSON(t, srv.URL+"/v1/sessions/s1/recording/stop", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", resp.StatusCode)
	}
	var msg messageJSON
	decodeBody(t, resp, &msg)
	if msg.Sender != "user" || msg.ID == "" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	waitForMessageCount(t, srv.URL, "s1", 2)
}

func TestStopWithoutAudioRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/sessions/s1/recording/start", "")
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/sessions/s1/recording/stop", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body errorBody
	decodeBody(t, resp, &body)
	if body.Error == "" {
		t.Fatal("expected error body")
	}
}

func TestPlaybackToggleEndpoint(t *testing.T) {
	srv, manager, _ := newTestServer(t)

	manager.AppendFrame("s1", make([]byte, 3200))
	msg, err := manager.StopRecording("s1")
	if err != nil {
		t.Fatalf("stop recording: %v", err)
	}

	resp := postJSON(t, srv.URL+"/v1/sessions/s1/messages/"+msg.ID+"/playback", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("toggle: expected 200, got %d", resp.StatusCode)
	}
	var state voicechat.PlaybackState
	decodeBody(t, resp, &state)
	if !state.Playing || state.MessageID != msg.ID {
		t.Fatalf("unexpected playback state: %+v", state)
	}

	resp = postJSON(t, srv.URL+"/v1/sessions/s1/messages/no-such-message/playback", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown message: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSpeakEndpoints(t *testing.T) {
	srv, _, engine := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/speak", `{"text":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty text: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/speak", `{"text":"hello there","pitch":7}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad pitch: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/speak", `{"session_id":"s1","text":"`+strings.Repeat("hello there ", 10)+`"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("speak: expected 202, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/speak/pause", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	if got := engine.Status(); !got.Paused {
		t.Fatalf("expected paused status, got %+v", got)
	}

	resp = postJSON(t, srv.URL+"/v1/speak/resume", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/speak/stop", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/speak/resume", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("resume while idle: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestVoicesEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/voices")
	if err != nil {
		t.Fatalf("get voices: %v", err)
	}
	var voices []speech.Voice
	decodeBody(t, resp, &voices)
	if len(voices) == 0 {
		t.Fatal("expected at least one voice")
	}
}

func TestGenerateEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/generate", `{"prompt":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty prompt: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/generate", `{"session_id":"s1","prompt":"tell me a story","speak":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate: expected 200, got %d", resp.StatusCode)
	}
	var out generateResponse
	decodeBody(t, resp, &out)
	if out.Text == "" || !out.Speak {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestCloseSessionEndpoint(t *testing.T) {
	srv, manager, _ := newTestServer(t)

	manager.AppendFrame("s1", make([]byte, 3200))
	if _, err := manager.StopRecording("s1"); err != nil {
		t.Fatalf("stop recording: %v", err)
	}

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/sessions/s1", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("close session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	if got := manager.Messages("s1"); got != nil {
		t.Fatalf("expected session to be gone, got %d messages", len(got))
	}
}

func waitForMessageCount(t *testing.T, baseURL, sessionID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/v1/sessions/" + sessionID + "/messages")
		if err != nil {
			t.Fatalf("get messages: %v", err)
		}
		var messages []messageJSON
		decodeBody(t, resp, &messages)
		if len(messages) >= want {
			if len(messages) != want {
				t.Fatalf("expected %d messages, got %d", want, len(messages))
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages", want)
}
