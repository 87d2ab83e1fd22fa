// Package tts synthesizes the spoken greeting that opens an intake.
package tts

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnsupportedLanguage is returned when no voice speaks the requested
// language. Callers skip synthesis instead of saving a mispronounced clip.
var ErrUnsupportedLanguage = errors.New("language not supported by the synthesizer")

// Synthesizer turns one utterance into a complete WAV file.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
	Close() error
}

type Request struct {
	Text  string
	Voice Voice
	// Speed is a multiplier; 0 keeps the voice default.
	Speed float64
}

// Voice is a named synthesizer voice and the language it speaks.
type Voice struct {
	Name     string
	Language string
}

// speechKitVoices lists SpeechKit v3 voices per primary language subtag. The
// first voice of each language is its default.
var speechKitVoices = map[string]struct {
	locale string
	names  []string
}{
	"ru": {"ru-RU", []string{"alena", "filipp", "ermil", "jane", "omazh", "zahar", "dasha", "julia", "lera", "masha", "marina", "alexander", "kirill", "anton"}},
	"en": {"en-US", []string{"john"}},
	"de": {"de-DE", []string{"lea"}},
	"kk": {"kk-KK", []string{"amira", "madi"}},
	"uz": {"uz-UZ", []string{"nigora"}},
	"he": {"he-IL", []string{"naomi"}},
}

// ResolveVoice picks the voice for a BCP-47 language tag. An empty preferred
// name selects the language default; a preferred voice of another language is
// an error.
func ResolveVoice(language, preferred string) (Voice, error) {
	base, _, _ := strings.Cut(strings.ToLower(language), "-")
	entry, ok := speechKitVoices[base]
	if !ok {
		return Voice{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	if preferred == "" {
		return Voice{Name: entry.names[0], Language: entry.locale}, nil
	}
	if !slices.Contains(entry.names, preferred) {
		return Voice{}, fmt.Errorf("voice %q does not speak %s", preferred, entry.locale)
	}
	return Voice{Name: preferred, Language: entry.locale}, nil
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}
