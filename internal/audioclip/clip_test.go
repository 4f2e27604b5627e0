package audioclip

import (
	"testing"
	"time"
)

func pcmSeconds(seconds, sampleRate, channels int) []byte {
	return make([]byte, seconds*sampleRate*channels*2)
}

func TestSaveAndReload(t *testing.T) {
	store, err := NewStore(t.TempDir(), 16000, 1)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	clip, err := store.Save(pcmSeconds(2, 16000, 1))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if clip.ID == "" || clip.Path == "" {
		t.Fatalf("expected populated clip, got %+v", clip)
	}
	if clip.Duration != 2*time.Second {
		t.Fatalf("expected 2s duration, got %v", clip.Duration)
	}

	dur, err := LoadDuration(clip.Path)
	if err != nil {
		t.Fatalf("load duration: %v", err)
	}
	if dur != 2*time.Second {
		t.Fatalf("expected 2s from wav header, got %v", dur)
	}
}

func TestSaveRejectsEmpty(t *testing.T) {
	store, err := NewStore(t.TempDir(), 16000, 1)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Save(nil); err == nil {
		t.Fatal("expected error for empty recording")
	}
}

func TestPCMDuration(t *testing.T) {
	store, err := NewStore(t.TempDir(), 22050, 2)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if got := store.PCMDuration(22050 * 2 * 2); got != time.Second {
		t.Fatalf("expected 1s, got %v", got)
	}
}
