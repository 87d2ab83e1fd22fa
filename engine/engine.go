package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/d1nch8g/intake/audio"
	"github.com/d1nch8g/intake/live"
	"github.com/d1nch8g/intake/metrics"
	"github.com/d1nch8g/intake/queue"
	"github.com/d1nch8g/intake/sound"
	"github.com/d1nch8g/intake/transcript"
)

// ErrStopped is returned by Run on an engine that has already run.
var ErrStopped = errors.New("engine stopped")

// Message is one item of the outbound queue: either a captured frame or a
// line typed by the user.
type Message struct {
	Frame *audio.Frame
	Text  string
}

// playback is one item of the inbound queue. An endOfTurn item carries no
// audio and tells the playback loop to flush the player.
type playback struct {
	pcm       []byte
	endOfTurn bool
}

// UsageLog receives raw usage reports.
type UsageLog interface {
	Append(line string) error
}

// Config holds the configuration for the intake engine
type Config struct {
	OutboundQueueSize int
	Intake            IntakeConfig
}

// Components are the collaborators of an Engine. Capturer, Player, Session
// and Summarizer are required.
type Components struct {
	Capturer   audio.Capturer
	Player     sound.Player
	Session    live.Session
	Summarizer Summarizer
	Transcript transcript.LineWriter
	Usage      UsageLog
	Console    *Console
	Input      io.Reader
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Engine runs one intake conversation: it streams the microphone to the live
// session, plays the synthesized answers, keeps the transcript and ends the
// run when the user quits or the model closes the intake.
type Engine struct {
	config Config
	c      Components
	logger *slog.Logger

	outbound *queue.Bounded[Message]
	inbound  *queue.Unbounded[playback]
	acc      *transcript.Accumulator
	intake   *IntakeHandler
	handlers sync.WaitGroup

	stop     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

// NewEngine creates a new intake engine instance
func NewEngine(config Config, c Components) *Engine {
	if config.OutboundQueueSize <= 0 {
		config.OutboundQueueSize = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewMetrics()
	}
	if c.Console == nil {
		c.Console = NewConsole(io.Discard)
	}

	e := &Engine{
		config:   config,
		c:        c,
		logger:   c.Logger,
		outbound: queue.NewBounded[Message](config.OutboundQueueSize),
		inbound:  queue.NewUnbounded[playback](),
		acc:      transcript.NewAccumulator(c.Transcript),
		stop:     make(chan struct{}),
	}
	e.intake = NewIntakeHandler(config.Intake, c.Summarizer, c.Session, e.Stop, c.Console, c.Metrics, c.Logger)
	return e
}

// Stop asks a running engine to shut down. It is safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// IntakeState reports the state of the end-of-intake handler.
func (e *Engine) IntakeState() State {
	return e.intake.State()
}

// Run opens the devices and runs the conversation loops until ctx is done,
// Stop is called, the intake ends or one of the loops fails. Device errors
// and loop failures are returned; an orderly stop returns nil.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrStopped
	}

	if err := e.c.Capturer.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize audio capture: %w", err)
	}
	defer e.c.Capturer.Terminate()

	if err := e.c.Capturer.Open(); err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	defer e.c.Capturer.Close()

	if err := e.c.Player.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize sound player: %w", err)
	}
	defer e.c.Player.Terminate()

	if err := e.c.Player.Open(); err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	defer e.c.Player.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 4)
	var wg sync.WaitGroup
	loops := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"capture", e.captureLoop},
		{"forward", e.forwardLoop},
		{"receive", e.receiveLoop},
		{"playback", e.playbackLoop},
	}
	for _, l := range loops {
		wg.Add(1)
		go func(name string, fn func(context.Context) error) {
			defer wg.Done()
			if err := fn(runCtx); err != nil && runCtx.Err() == nil && !errors.Is(err, queue.ErrClosed) {
				errs <- fmt.Errorf("%s loop: %w", name, err)
			}
		}(l.name, l.fn)
	}

	// the keyboard read cannot be interrupted, so this loop is not waited for
	if e.c.Input != nil {
		go e.keyboardLoop(runCtx)
	}

	e.logger.Info("intake started")

	var runErr error
	select {
	case <-ctx.Done():
		e.logger.Info("intake cancelled")
	case <-e.stop:
		e.logger.Info("intake stopped", slog.String("state", e.intake.State().String()))
	case runErr = <-errs:
		e.logger.Error("intake loop failed", slog.String("error", runErr.Error()))
	}

	cancel()
	e.outbound.Close()
	e.inbound.Close()
	wg.Wait()
	e.handlers.Wait()

	if e.acc.Pending() {
		if _, err := e.acc.Flush(); err != nil {
			e.logger.Warn("failed to flush transcript", slog.String("error", err.Error()))
		}
	}

	return runErr
}

func (e *Engine) captureLoop(ctx context.Context) error {
	return e.c.Capturer.StartCapture(ctx, func(ctx context.Context, frame audio.Frame) error {
		e.c.Metrics.FramesCaptured.Inc()
		if err := e.outbound.Put(ctx, Message{Frame: &frame}); err != nil {
			return err
		}
		e.c.Metrics.OutboundQueueLength.Set(float64(e.outbound.Len()))
		return nil
	})
}

func (e *Engine) forwardLoop(ctx context.Context) error {
	for {
		msg, err := e.outbound.Get(ctx)
		if err != nil {
			return err
		}
		e.c.Metrics.OutboundQueueLength.Set(float64(e.outbound.Len()))

		if msg.Frame != nil {
			if err := e.c.Session.SendAudio(ctx, *msg.Frame); err != nil {
				return err
			}
			e.c.Metrics.FramesSent.Inc()
			continue
		}

		if err := e.c.Session.SendText(ctx, msg.Text, true); err != nil {
			return err
		}
		e.c.Metrics.TextMessagesSent.Inc()
	}
}

func (e *Engine) receiveLoop(ctx context.Context) error {
	for {
		ev, err := e.c.Session.Receive(ctx)
		if err != nil {
			return err
		}
		e.dispatch(ctx, ev)
	}
}

func (e *Engine) dispatch(ctx context.Context, ev live.Event) {
	switch ev := ev.(type) {
	case live.ToolCall:
		for _, call := range ev.Calls {
			// the summary is written off the receive loop so audio keeps flowing
			e.handlers.Add(1)
			go func(call live.FunctionCall) {
				defer e.handlers.Done()
				e.intake.Handle(ctx, call)
			}(call)
		}

	case live.InputTranscription:
		e.c.Console.Fragment(transcript.You, ev.Text)
		e.acc.Add(transcript.You, ev.Text)

	case live.OutputTranscription:
		e.c.Console.Fragment(transcript.Model, ev.Text)
		e.acc.Add(transcript.Model, ev.Text)

	case live.Audio:
		e.inbound.Put(playback{pcm: ev.Data})
		e.c.Metrics.FramesReceived.Inc()
		e.c.Metrics.PlaybackQueueLength.Set(float64(e.inbound.Len()))

	case live.Usage:
		e.c.Console.Usage(ev)
		e.c.Metrics.RecordUsage(ev.PromptTokens, ev.ResponseTokens, ev.TotalTokens)
		if e.c.Usage != nil {
			if err := e.c.Usage.Append(ev.Raw); err != nil {
				e.logger.Debug("failed to append usage", slog.String("error", err.Error()))
			}
		}

	case live.Interrupted:
		dropped := e.inbound.Drain()
		e.c.Player.Reset()
		e.c.Metrics.Interruptions.Inc()
		e.c.Metrics.FramesDropped.Add(float64(dropped))
		e.c.Metrics.PlaybackQueueLength.Set(0)
		e.logger.Debug("playback interrupted", slog.Int("dropped", dropped))

	case live.TurnComplete:
		lines, err := e.acc.Flush()
		if err != nil {
			e.logger.Warn("failed to write transcript", slog.String("error", err.Error()))
		}
		for _, l := range lines {
			e.c.Metrics.TranscriptLines.WithLabelValues(string(l.Speaker)).Inc()
		}
		e.inbound.Put(playback{endOfTurn: true})
		e.c.Metrics.TurnsCompleted.Inc()
		e.c.Console.EndTurn()

	case live.GoAway:
		e.logger.Warn("live server is closing the session", slog.String("time_left", ev.TimeLeft))
	}
}

func (e *Engine) playbackLoop(ctx context.Context) error {
	for {
		item, err := e.inbound.Get(ctx)
		if err != nil {
			return err
		}
		e.c.Metrics.PlaybackQueueLength.Set(float64(e.inbound.Len()))

		if item.endOfTurn {
			if err := e.c.Player.Flush(); err != nil {
				return err
			}
			continue
		}

		if err := e.c.Player.Write(item.pcm); err != nil {
			return err
		}
		e.c.Metrics.FramesPlayed.Inc()
	}
}

func (e *Engine) keyboardLoop(ctx context.Context) {
	scanner := bufio.NewScanner(e.c.Input)
	for {
		e.c.Console.Prompt()
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				e.logger.Debug("keyboard input ended", slog.String("error", err.Error()))
			}
			return
		}

		text := scanner.Text()
		if strings.EqualFold(strings.TrimSpace(text), "q") {
			if err := e.c.Session.SendText(ctx, ".", true); err != nil {
				e.logger.Debug("failed to send final turn", slog.String("error", err.Error()))
			}
			e.Stop()
			return
		}
		if text == "" {
			text = "."
		}

		if err := e.outbound.Put(ctx, Message{Text: text}); err != nil {
			return
		}
	}
}
