package protocol

import (
	"errors"
	"testing"
)

func TestSpeakRequestValidate(t *testing.T) {
	valid := SpeakRequest{Text: "hello", Voice: "aria", Language: "en-US", Pitch: 1.2, Rate: 0.8}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// zero pitch/rate mean "use defaults"
	if err := (SpeakRequest{Text: "hello"}).Validate(); err != nil {
		t.Fatalf("unexpected error for zero params: %v", err)
	}

	cases := []struct {
		name string
		req  SpeakRequest
		want error
	}{
		{"empty text", SpeakRequest{}, ErrEmptyText},
		{"pitch too low", SpeakRequest{Text: "x", Pitch: 0.4}, ErrPitchOutOfRange},
		{"pitch too high", SpeakRequest{Text: "x", Pitch: 2.5}, ErrPitchOutOfRange},
		{"rate too low", SpeakRequest{Text: "x", Rate: 0.1}, ErrRateOutOfRange},
		{"rate too high", SpeakRequest{Text: "x", Rate: 5}, ErrRateOutOfRange},
		{"bad language", SpeakRequest{Text: "x", Language: "en_US"}, ErrBadLanguageTag},
	}
	for _, tc := range cases {
		if err := tc.req.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestValidLanguageTag(t *testing.T) {
	for _, tag := range []string{"en", "en-US", "pt-BR", "zh-Hans-CN"} {
		if !ValidLanguageTag(tag) {
			t.Fatalf("expected %q to be accepted", tag)
		}
	}
	for _, tag := range []string{"", "e", "en_US", "english language"} {
		if ValidLanguageTag(tag) {
			t.Fatalf("expected %q to be rejected", tag)
		}
	}
}
