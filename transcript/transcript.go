// Package transcript keeps the running conversation log of an intake: partial
// transcription fragments are collected per speaker and written as one line
// per speaker when a turn completes.
package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Speaker string

const (
	You   Speaker = "you"
	Model Speaker = "model"
)

// Line is one completed turn of one speaker.
type Line struct {
	Speaker Speaker
	Text    string
}

func (l Line) String() string {
	return fmt.Sprintf("[%s] %s", l.Speaker, l.Text)
}

// LineWriter persists completed lines.
type LineWriter interface {
	WriteLines(lines ...Line) error
}

// Accumulator buffers fragments for the current turn. It is owned by the
// receive loop and is not safe for concurrent use.
type Accumulator struct {
	sink  LineWriter
	you   []string
	model []string
}

func NewAccumulator(sink LineWriter) *Accumulator {
	return &Accumulator{sink: sink}
}

// Add appends a fragment for the given speaker. Fragments are joined verbatim
// on flush, so the model's own spacing is preserved.
func (a *Accumulator) Add(speaker Speaker, fragment string) {
	switch speaker {
	case You:
		a.you = append(a.you, fragment)
	case Model:
		a.model = append(a.model, fragment)
	}
}

// Pending reports whether any fragment is buffered.
func (a *Accumulator) Pending() bool {
	return len(a.you) > 0 || len(a.model) > 0
}

// Flush joins the buffered fragments, writes the "you" line before the "model"
// line, skipping a speaker whose text is blank, and clears both buffers. The
// buffers are cleared even if the write fails.
func (a *Accumulator) Flush() ([]Line, error) {
	var lines []Line
	if text := strings.TrimSpace(strings.Join(a.you, "")); text != "" {
		lines = append(lines, Line{Speaker: You, Text: text})
	}
	if text := strings.TrimSpace(strings.Join(a.model, "")); text != "" {
		lines = append(lines, Line{Speaker: Model, Text: text})
	}
	a.you = a.you[:0]
	a.model = a.model[:0]

	if len(lines) == 0 || a.sink == nil {
		return lines, nil
	}
	if err := a.sink.WriteLines(lines...); err != nil {
		return lines, fmt.Errorf("failed to write transcript: %w", err)
	}
	return lines, nil
}

// File is an append-only text file. Each write is a separate append so the
// file stays readable by the summarizer while the session runs.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string { return f.path }

func (f *File) WriteLines(lines ...Line) error {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.String())
		b.WriteByte('\n')
	}
	return f.append(b.String())
}

// Append writes one raw line.
func (f *File) Append(line string) error {
	return f.append(line + "\n")
}

func (f *File) append(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := fh.WriteString(s); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}
