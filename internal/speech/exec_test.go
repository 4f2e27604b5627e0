package speech

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeFakeSynth installs a shell script speaking the exec backend
// protocol: a "voices" argument prints the voice list immediately,
// anything else reads the request from stdin, holds the utterance open
// briefly and emits one final chunk.
func writeFakeSynth(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "synth.sh")
	script := `#!/bin/sh
if [ "$1" = "voices" ]; then
  printf '[{"name":"default","language":"en-US","gender":"neutral"}]'
  exit 0
fi
cat > /dev/null
sleep 1
printf '{"pcm_base64":"AAAA","final":true}\n'
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write synth script: %v", err)
	}
	return path
}

func TestExecSynthesizeStreamsChunks(t *testing.T) {
	synth, err := NewExecSynth(writeFakeSynth(t), 8000, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}

	chunks, errs := synth.Synthesize(context.Background(), SynthRequest{SessionID: "s1", Text: "hello"})

	var got []SynthChunk
	for chunk := range chunks {
		got = append(got, chunk)
	}
	if err := <-errs; err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one chunk, got %d", len(got))
	}
	if !got[0].Final || len(got[0].PCM) == 0 {
		t.Fatalf("unexpected chunk: %+v", got[0])
	}
}

func TestExecListVoicesDoesNotWaitForSynthesis(t *testing.T) {
	synth, err := NewExecSynth(writeFakeSynth(t), 8000, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chunks, errs := synth.Synthesize(ctx, SynthRequest{SessionID: "s1", Text: "hello"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		voices, verr := synth.ListVoices(context.Background())
		if verr != nil {
			t.Errorf("list voices: %v", verr)
			return
		}
		if len(voices) != 1 || voices[0].Name != "default" {
			t.Errorf("unexpected voices: %+v", voices)
		}
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("voice listing blocked behind an in-flight utterance")
	}

	for range chunks {
	}
	if err := <-errs; err != nil {
		t.Fatalf("synthesize: %v", err)
	}
}
