package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Greeting describes the clip played before the conversation starts.
type Greeting struct {
	Text     string
	Language string
	// Voice optionally pins a voice; it must speak Language.
	Voice string
	Speed float64
}

// EnsureGreeting synthesizes g into a WAV file at path unless the file already
// exists. It reports whether a new file was written. The voice is resolved
// before any remote call, so an unsupported language returns
// ErrUnsupportedLanguage without contacting the synthesizer.
func EnsureGreeting(ctx context.Context, synth Synthesizer, path string, g Greeting) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}

	voice, err := ResolveVoice(g.Language, g.Voice)
	if err != nil {
		return false, err
	}

	wav, err := synth.Synthesize(ctx, Request{Text: g.Text, Voice: voice, Speed: g.Speed})
	if err != nil {
		return false, err
	}
	if !IsWAV(wav) {
		return false, errors.New("synthesizer did not return a WAV file")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, err
		}
	}

	// a crash mid-write must not leave a truncated clip that later runs would play
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, wav, 0o644); err != nil {
		return false, fmt.Errorf("failed to write greeting: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("failed to write greeting: %w", err)
	}
	return true, nil
}
