package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus metrics of one intake run
type Metrics struct {
	registry *prometheus.Registry

	// Audio metrics
	FramesCaptured      prometheus.Counter
	FramesSent          prometheus.Counter
	FramesReceived      prometheus.Counter
	FramesPlayed        prometheus.Counter
	FramesDropped       prometheus.Counter
	OutboundQueueLength prometheus.Gauge
	PlaybackQueueLength prometheus.Gauge

	// Conversation metrics
	TurnsCompleted   prometheus.Counter
	Interruptions    prometheus.Counter
	TextMessagesSent prometheus.Counter
	TranscriptLines  *prometheus.CounterVec
	Tokens           *prometheus.CounterVec

	// Tool metrics
	ToolCalls       *prometheus.CounterVec
	SummaryDuration prometheus.Histogram
}

// NewMetrics creates the metrics on a private registry so tests can create
// as many instances as they need.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		FramesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_frames_captured_total",
			Help: "Total number of microphone frames captured",
		}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_frames_sent_total",
			Help: "Total number of audio frames forwarded to the live session",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_frames_received_total",
			Help: "Total number of synthesized audio frames received",
		}),
		FramesPlayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_frames_played_total",
			Help: "Total number of audio frames written to the output device",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_frames_dropped_total",
			Help: "Total number of queued playback frames discarded after an interruption",
		}),
		OutboundQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intake_outbound_queue_length",
			Help: "Current number of messages waiting to be sent",
		}),
		PlaybackQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intake_playback_queue_length",
			Help: "Current number of audio frames waiting for playback",
		}),
		TurnsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_turns_completed_total",
			Help: "Total number of completed model turns",
		}),
		Interruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_interruptions_total",
			Help: "Total number of times the user interrupted the model",
		}),
		TextMessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_text_messages_sent_total",
			Help: "Total number of typed messages sent",
		}),
		TranscriptLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_transcript_lines_total",
			Help: "Total number of transcript lines written",
		}, []string{"speaker"}),
		Tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_tokens_total",
			Help: "Token usage reported by the live model",
		}, []string{"kind"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_tool_calls_total",
			Help: "Total number of tool calls received",
		}, []string{"name", "result"}),
		SummaryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_summary_duration_seconds",
			Help:    "Time spent generating the intake summary",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40},
		}),
	}

	reg.MustRegister(
		m.FramesCaptured, m.FramesSent, m.FramesReceived, m.FramesPlayed, m.FramesDropped,
		m.OutboundQueueLength, m.PlaybackQueueLength,
		m.TurnsCompleted, m.Interruptions, m.TextMessagesSent, m.TranscriptLines, m.Tokens,
		m.ToolCalls, m.SummaryDuration,
	)
	return m
}

// RecordUsage adds one usage report to the token counters.
func (m *Metrics) RecordUsage(prompt, response, total int64) {
	m.Tokens.WithLabelValues("prompt").Add(float64(prompt))
	m.Tokens.WithLabelValues("response").Add(float64(response))
	m.Tokens.WithLabelValues("total").Add(float64(total))
}

// ObserveSummary records how long a summary took.
func (m *Metrics) ObserveSummary(start time.Time) {
	m.SummaryDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
