package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/d1nch8g/intake/audio"
	"github.com/d1nch8g/intake/config"
	"github.com/d1nch8g/intake/engine"
	"github.com/d1nch8g/intake/gpt"
	"github.com/d1nch8g/intake/live"
	"github.com/d1nch8g/intake/metrics"
	"github.com/d1nch8g/intake/sound"
	"github.com/d1nch8g/intake/summary"
	"github.com/d1nch8g/intake/transcript"
	"github.com/d1nch8g/intake/tts"
)

func main() {
	configPath := flag.String("config", "", "Path to an optional YAML configuration file")
	summarizeOnly := flag.Bool("summarize", false, "Summarize the existing transcript and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *summarizeOnly {
		if err := runSummary(ctx, cfg, logger); err != nil {
			logger.Error("summary failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("intake failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.RequireLive(); err != nil {
		return err
	}

	sessionID := uuid.NewString()
	logger = logger.With(slog.String("session", sessionID))

	appMetrics := metrics.NewMetrics()
	if cfg.Metrics.Address != "" {
		go func() {
			if err := appMetrics.Serve(ctx, cfg.Metrics.Address, logger); err != nil {
				logger.Warn("metrics server stopped", slog.String("error", err.Error()))
			}
		}()
	}

	playGreeting(ctx, cfg, logger)

	summarizer, closeSummarizer, err := newSummarizer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSummarizer()

	session, err := live.Dial(ctx, "", live.Config{
		APIKey:            cfg.Live.APIKey,
		Model:             cfg.Live.Model,
		SystemInstruction: cfg.Live.SystemInstruction,
		Voice:             cfg.Live.Voice,
		Language:          cfg.Live.Language,
		TriggerTokens:     cfg.Live.TriggerTokens,
		TargetTokens:      cfg.Live.TargetTokens,
		Tools: []live.FunctionDeclaration{{
			Name:        cfg.Live.ToolName,
			Description: cfg.Live.ToolDescription,
		}},
	}, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	capturer := audio.NewPortaudioCapturer(audio.Config{
		SampleRate:      cfg.Audio.SendSampleRate,
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		InputChannels:   cfg.Audio.Channels,
	}, logger)

	player := sound.NewPortaudioPlayer(sound.PlayerConfig{
		SampleRate:      cfg.Audio.ReceiveSampleRate,
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		OutputChannels:  cfg.Audio.Channels,
	}, logger)

	var usage engine.UsageLog
	if cfg.Files.Usage != "" {
		usage = transcript.NewFile(cfg.Files.Usage)
	}

	eng := engine.NewEngine(engine.Config{
		OutboundQueueSize: cfg.Audio.OutboundQueueSize,
		Intake: engine.IntakeConfig{
			ToolName:         cfg.Live.ToolName,
			ClosingUtterance: cfg.Live.ClosingUtterance,
		},
	}, engine.Components{
		Capturer:   capturer,
		Player:     player,
		Session:    session,
		Summarizer: summarizer,
		Transcript: transcript.NewFile(cfg.Files.Transcript),
		Usage:      usage,
		Console:    engine.NewConsole(os.Stdout),
		Input:      os.Stdin,
		Metrics:    appMetrics,
		Logger:     logger,
	})

	fmt.Println("Intake gestart. Spreek in de microfoon of typ een bericht; 'q' om te stoppen.")

	if err := eng.Run(ctx); err != nil {
		return err
	}
	logger.Info("intake finished", slog.String("state", eng.IntakeState().String()))
	return nil
}

func runSummary(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.RequireSummary(); err != nil {
		return err
	}

	summarizer, closeSummarizer, err := newSummarizer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSummarizer()

	text, err := summarizer.Summarize(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n\n%s is aangemaakt.\n", text, summarizer.OutputPath())
	return nil
}

// newSummarizer builds the summarizer on the configured backend. The returned
// function releases the backend client.
func newSummarizer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*summary.Summarizer, func(), error) {
	var (
		generator summary.Generator
		closer    = func() {}
	)

	switch cfg.Summary.Backend {
	case "yandex":
		client := gpt.NewClient(cfg.Yandex.GPTFolderID, cfg.Yandex.IamToken)
		generator = summary.NewYandexGenerator(client, cfg.Summary.ModelName())
	default:
		gemini, err := summary.NewGeminiGenerator(ctx, cfg.Live.APIKey, cfg.Summary.ModelName())
		if err != nil {
			return nil, nil, err
		}
		generator = gemini
		closer = func() { gemini.Close() }
	}

	logger.Debug("summary backend ready",
		slog.String("backend", cfg.Summary.Backend),
		slog.String("model", cfg.Summary.ModelName()),
	)

	return summary.NewSummarizer(summary.Config{
		TranscriptPath: cfg.Files.Transcript,
		OutputPath:     cfg.Files.Summary,
		Language:       cfg.Summary.Language,
	}, generator, logger), closer, nil
}

// playGreeting plays the welcome clip, synthesizing it first when it is
// missing and SpeechKit credentials are configured. Failures are logged only.
func playGreeting(ctx context.Context, cfg *config.Config, logger *slog.Logger) {
	path := cfg.Files.Greeting
	if path == "" {
		return
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if !cfg.Yandex.CanSynthesizeGreeting() {
			logger.Info("no greeting clip, skipping", slog.String("path", path))
			return
		}
		err := synthesizeGreeting(ctx, cfg, logger)
		if errors.Is(err, tts.ErrUnsupportedLanguage) {
			logger.Info("greeting language has no synthesizer voice, skipping", slog.String("error", err.Error()))
			return
		}
		if err != nil {
			logger.Warn("failed to synthesize greeting", slog.String("error", err.Error()))
			return
		}
	}

	if err := sound.PlayGreeting(path, cfg.Audio.FramesPerBuffer); err != nil {
		logger.Warn("failed to play greeting", slog.String("path", path), slog.String("error", err.Error()))
	}
}

func synthesizeGreeting(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	client, err := tts.NewSpeechKitClient(tts.SpeechKitConfig{
		APIKey:   cfg.Yandex.APIKey,
		FolderID: cfg.Yandex.FolderID,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	written, err := tts.EnsureGreeting(ctx, client, cfg.Files.Greeting, tts.Greeting{
		Text:     cfg.Yandex.GreetingText,
		Language: cfg.Yandex.GreetingLanguageOr(cfg.Live.Language),
		Voice:    cfg.Yandex.GreetingVoice,
	})
	if err != nil {
		return err
	}
	if written {
		logger.Info("greeting synthesized", slog.String("path", cfg.Files.Greeting))
	}
	return nil
}

func initLogger(cfg config.LoggingConfig, output io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}
	return slog.New(handler)
}
