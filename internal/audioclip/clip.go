package audioclip

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// Clip is a stored audio clip reference.
type Clip struct {
	ID       string
	Path     string
	Duration time.Duration
}

// Store writes PCM buffers as WAV files into a single directory.
type Store struct {
	dir        string
	sampleRate int
	channels   int
}

func NewStore(dir string, sampleRate, channels int) (*Store, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, errors.New("sample rate and channels must be positive")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create clip dir: %w", err)
	}
	return &Store{dir: dir, sampleRate: sampleRate, channels: channels}, nil
}

// Save encodes 16-bit little-endian PCM as a WAV file named by a fresh UUID.
func (s *Store) Save(pcm []byte) (Clip, error) {
	if len(pcm) == 0 {
		return Clip{}, errors.New("empty recording")
	}

	id := uuid.NewString()
	path := filepath.Join(s.dir, id+".wav")

	f, err := os.Create(path)
	if err != nil {
		return Clip{}, fmt.Errorf("create clip file: %w", err)
	}

	enc := wav.NewEncoder(f, s.sampleRate, 16, s.channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: s.channels, SampleRate: s.sampleRate},
		Data:           samplesFromPCM(pcm),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		f.Close()
		os.Remove(path)
		return Clip{}, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return Clip{}, fmt.Errorf("finalize wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return Clip{}, fmt.Errorf("close clip file: %w", err)
	}

	return Clip{ID: id, Path: path, Duration: s.PCMDuration(len(pcm))}, nil
}

// PCMDuration converts a raw 16-bit PCM byte count into play time.
func (s *Store) PCMDuration(byteLen int) time.Duration {
	frames := byteLen / 2 / s.channels
	return time.Duration(frames) * time.Second / time.Duration(s.sampleRate)
}

// LoadDuration reads a clip's duration back from its WAV header.
func LoadDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open clip: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dur, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("read clip duration: %w", err)
	}
	return dur, nil
}

func samplesFromPCM(pcm []byte) []int {
	// trailing odd byte is dropped
	samples := make([]int, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		samples = append(samples, int(int16(uint16(pcm[i])|uint16(pcm[i+1])<<8)))
	}
	return samples
}
