package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/d1nch8g/intake/live"
	"github.com/d1nch8g/intake/metrics"
)

// State is the lifecycle of an intake conversation.
type State int32

const (
	StateActive State = iota
	StateEnding
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Summarizer writes the intake summary and reports where it went.
type Summarizer interface {
	Summarize(ctx context.Context) (string, error)
	OutputPath() string
}

// ToolSession is the part of the live session the intake handler writes to.
type ToolSession interface {
	SendToolResponse(ctx context.Context, responses ...live.FunctionResponse) error
	SendText(ctx context.Context, text string, endOfTurn bool) error
}

type IntakeConfig struct {
	ToolName         string
	ClosingUtterance string
}

// IntakeHandler ends the intake when the model calls the end-of-intake tool:
// it writes the summary, answers the call, says goodbye and signals shutdown.
// Only the first call is honoured; the tool may arrive both as a top-level
// tool call and inside a model turn.
type IntakeHandler struct {
	config     IntakeConfig
	summarizer Summarizer
	session    ToolSession
	onEnded    func()
	console    *Console
	metrics    *metrics.Metrics
	logger     *slog.Logger

	state atomic.Int32
}

func NewIntakeHandler(
	config IntakeConfig,
	summarizer Summarizer,
	session ToolSession,
	onEnded func(),
	console *Console,
	m *metrics.Metrics,
	logger *slog.Logger,
) *IntakeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	if onEnded == nil {
		onEnded = func() {}
	}
	return &IntakeHandler{
		config:     config,
		summarizer: summarizer,
		session:    session,
		onEnded:    onEnded,
		console:    console,
		metrics:    m,
		logger:     logger,
	}
}

func (h *IntakeHandler) State() State {
	return State(h.state.Load())
}

// Handle processes one function call. It returns true only for the call that
// moved the intake from active to ended.
func (h *IntakeHandler) Handle(ctx context.Context, call live.FunctionCall) bool {
	if call.Name != h.config.ToolName {
		h.logger.Debug("ignoring unknown tool call", slog.String("name", call.Name))
		h.metrics.ToolCalls.WithLabelValues(call.Name, "ignored").Inc()
		return false
	}

	if !h.state.CompareAndSwap(int32(StateActive), int32(StateEnding)) {
		h.logger.Debug("intake already ending", slog.String("call_id", call.ID))
		h.metrics.ToolCalls.WithLabelValues(call.Name, "duplicate").Inc()
		return false
	}

	h.logger.Info("model ended the intake", slog.String("call_id", call.ID))

	start := time.Now()
	_, err := h.summarizer.Summarize(ctx)
	h.metrics.ObserveSummary(start)

	var response map[string]any
	if err != nil {
		h.logger.Error("failed to generate intake summary", slog.String("error", err.Error()))
		h.say("Fout bij genereren: " + err.Error())
		h.metrics.ToolCalls.WithLabelValues(call.Name, "error").Inc()
		response = map[string]any{
			"result":  "error",
			"message": err.Error(),
		}
	} else {
		h.say(h.summarizer.OutputPath() + " is aangemaakt.")
		h.metrics.ToolCalls.WithLabelValues(call.Name, "ok").Inc()
		response = map[string]any{
			"result": "ok",
			"file":   h.summarizer.OutputPath(),
		}
	}

	err = h.session.SendToolResponse(ctx, live.FunctionResponse{
		ID:         call.ID,
		Name:       call.Name,
		Response:   response,
		Scheduling: live.SchedulingInterrupt,
	})
	if err != nil {
		h.logger.Warn("failed to send tool response", slog.String("error", err.Error()))
	}

	if h.config.ClosingUtterance != "" {
		if err := h.session.SendText(ctx, h.config.ClosingUtterance, true); err != nil {
			h.logger.Debug("failed to send closing utterance", slog.String("error", err.Error()))
		}
	}

	h.state.Store(int32(StateEnded))
	h.onEnded()
	return true
}

func (h *IntakeHandler) say(message string) {
	if h.console != nil {
		h.console.Summary(message)
	}
}
