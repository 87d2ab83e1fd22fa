// Package summary turns an intake transcript into a structured note for the
// physiotherapist.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	// Placeholder is written when there is no transcript to summarize.
	Placeholder = "Geen transcript gevonden. Er kon geen samenvatting worden gegenereerd."

	// Fallback is written when the text generation call fails or returns nothing.
	Fallback = "Samenvatting kon niet worden gegenereerd. Zie volledige transcript in transcriptions.txt."
)

const instructionNL = "Maak een beknopte, gestructureerde samenvatting van dit intakegesprek " +
	"voor een fysiotherapeut. Gebruik puntsgewijze secties en houd het zakelijk. " +
	"Neem indien beschikbaar het volgende op:\n" +
	"- Patiëntprofiel (leeftijd/geslacht indien genoemd)\n" +
	"- Hulpvraag & hoofdklacht\n" +
	"- Ontstaanswijze & beloop (duur, triggers, verlichtende factoren)\n" +
	"- Pijn (locatie, aard, intensiteit/schaal, verloop)\n" +
	"- Rode vlaggen/gele vlaggen (indien genoemd)\n" +
	"- Functionele beperkingen & participatie\n" +
	"- Relevante voorgeschiedenis/medicatie/werk/sport\n" +
	"- Hypothese/werkdiagnose (indien naar voren komt)\n" +
	"- Behandelplan & adviezen (oefeningen, educatie, load management)\n" +
	"- Meetbehoefte voor objectief onderzoek (indien passend)\n" +
	"Wees kort, helder en zonder persoonlijke bewoordingen."

const instructionEN = "Produce a concise, structured physiotherapy intake summary in bullet points."

// Generator produces text for a single prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Config struct {
	TranscriptPath string
	OutputPath     string
	Language       string
}

type Summarizer struct {
	config    Config
	generator Generator
	logger    *slog.Logger
}

func NewSummarizer(config Config, generator Generator, logger *slog.Logger) *Summarizer {
	if config.TranscriptPath == "" {
		config.TranscriptPath = "transcriptions.txt"
	}
	if config.OutputPath == "" {
		config.OutputPath = "intake_summary.txt"
	}
	if config.Language == "" {
		config.Language = "nl"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{config: config, generator: generator, logger: logger}
}

// OutputPath returns where the summary is written.
func (s *Summarizer) OutputPath() string { return s.config.OutputPath }

// Summarize reads the whole transcript, asks the generator for a summary and
// overwrites the output file with it. It returns the text that was written:
// the summary, Placeholder for a missing or empty transcript (no remote call
// is made), or Fallback when generation fails. The only error is a failure to
// write the output file.
func (s *Summarizer) Summarize(ctx context.Context) (string, error) {
	transcript := s.readTranscript()
	if transcript == "" {
		s.logger.Info("no transcript available, writing placeholder", slog.String("path", s.config.TranscriptPath))
		return Placeholder, s.write(Placeholder)
	}

	text, err := s.generator.Generate(ctx, BuildPrompt(transcript, s.config.Language))
	if err != nil {
		s.logger.Warn("summary generation failed", slog.String("error", err.Error()))
	}
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		text = Fallback
	}

	return text, s.write(text)
}

func (s *Summarizer) readTranscript() string {
	data, err := os.ReadFile(s.config.TranscriptPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to read transcript", slog.String("error", err.Error()))
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (s *Summarizer) write(text string) error {
	if dir := filepath.Dir(s.config.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create summary directory: %w", err)
		}
	}
	if err := os.WriteFile(s.config.OutputPath, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// BuildPrompt places the instruction for the language before the verbatim transcript.
func BuildPrompt(transcript, language string) string {
	instruction := instructionEN
	if strings.HasPrefix(strings.ToLower(language), "nl") {
		instruction = instructionNL
	}

	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\n")
	b.WriteString("Transcript (inclusief vragen/antwoorden van zowel patiënt als therapeut):\n")
	b.WriteString(transcript)
	b.WriteString("\n")
	return b.String()
}
