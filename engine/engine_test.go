package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/d1nch8g/intake/audio"
	"github.com/d1nch8g/intake/live"
	"github.com/d1nch8g/intake/transcript"
)

type fakeSession struct {
	events  chan live.Event
	recvErr chan error

	mu        sync.Mutex
	frames    []audio.Frame
	texts     []string
	responses []live.FunctionResponse
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		events:  make(chan live.Event, 32),
		recvErr: make(chan error, 1),
	}
}

func (s *fakeSession) SendAudio(ctx context.Context, frame audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSession) SendText(ctx context.Context, text string, endOfTurn bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return nil
}

func (s *fakeSession) SendToolResponse(ctx context.Context, responses ...live.FunctionResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, responses...)
	return nil
}

func (s *fakeSession) Receive(ctx context.Context) (live.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case err := <-s.recvErr:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSession) Close() error { return nil }

func (s *fakeSession) sentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *fakeSession) sentResponses() []live.FunctionResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]live.FunctionResponse(nil), s.responses...)
}

func (s *fakeSession) sentFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type fakeCapturer struct {
	frames  []audio.Frame
	openErr error
}

func (c *fakeCapturer) Initialize() error { return nil }
func (c *fakeCapturer) Terminate()        {}
func (c *fakeCapturer) Open() error       { return c.openErr }
func (c *fakeCapturer) Close() error      { return nil }

func (c *fakeCapturer) StartCapture(ctx context.Context, emit func(context.Context, audio.Frame) error) error {
	for _, f := range c.frames {
		if err := emit(ctx, f); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

// fakePlayer records writes. When block is set, every Write reports on
// entered and waits for release. flushedAt holds the number of writes seen
// at each Flush.
type fakePlayer struct {
	block   bool
	entered chan []byte
	release chan struct{}

	mu      sync.Mutex
	written   [][]byte
	resets    int
	flushedAt []int
}

func newFakePlayer(block bool) *fakePlayer {
	return &fakePlayer{
		block:   block,
		entered: make(chan []byte, 16),
		release: make(chan struct{}),
	}
}

func (p *fakePlayer) Initialize() error { return nil }
func (p *fakePlayer) Terminate()        {}
func (p *fakePlayer) Open() error       { return nil }
func (p *fakePlayer) Close() error      { return nil }

func (p *fakePlayer) Write(pcm []byte) error {
	if p.block {
		p.entered <- pcm
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, pcm)
	return nil
}

func (p *fakePlayer) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushedAt = append(p.flushedAt, len(p.written))
	return nil
}

func (p *fakePlayer) flushes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.flushedAt...)
}

func (p *fakePlayer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
}

func (p *fakePlayer) snapshot() ([][]byte, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.written...), p.resets
}

type fakeSummarizer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakeSummarizer) Summarize(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return "samenvatting", s.err
}

func (s *fakeSummarizer) OutputPath() string { return "intake_summary.txt" }

func (s *fakeSummarizer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type memoryLines struct {
	mu    sync.Mutex
	lines []string
}

func (m *memoryLines) WriteLines(lines ...transcript.Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range lines {
		m.lines = append(m.lines, l.String())
	}
	return nil
}

func (m *memoryLines) Append(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, line)
	return nil
}

func (m *memoryLines) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

type harness struct {
	engine     *Engine
	session    *fakeSession
	player     *fakePlayer
	summarizer *fakeSummarizer
	transcript *memoryLines
	usage      *memoryLines
	done       chan error
}

func newHarness(t *testing.T, c Components) *harness {
	t.Helper()

	h := &harness{
		session:    newFakeSession(),
		player:     newFakePlayer(false),
		summarizer: &fakeSummarizer{},
		transcript: &memoryLines{},
		usage:      &memoryLines{},
		done:       make(chan error, 1),
	}
	if c.Capturer == nil {
		c.Capturer = &fakeCapturer{}
	}
	if c.Player == nil {
		c.Player = h.player
	} else if p, ok := c.Player.(*fakePlayer); ok {
		h.player = p
	}
	c.Session = h.session
	c.Summarizer = h.summarizer
	c.Transcript = h.transcript
	c.Usage = h.usage

	h.engine = NewEngine(Config{
		OutboundQueueSize: 5,
		Intake: IntakeConfig{
			ToolName:         "end_intake_and_summarize",
			ClosingUtterance: "Dank je wel.",
		},
	}, c)
	return h
}

func (h *harness) start(ctx context.Context) {
	go func() { h.done <- h.engine.Run(ctx) }()
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not stop")
		return nil
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestTurnCompleteWritesTranscript(t *testing.T) {
	h := newHarness(t, Components{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.start(ctx)

	h.session.events <- live.InputTranscription{Text: "Hal"}
	h.session.events <- live.InputTranscription{Text: "lo"}
	h.session.events <- live.OutputTranscription{Text: "Hoi"}
	h.session.events <- live.TurnComplete{}

	eventually(t, func() bool { return len(h.transcript.snapshot()) == 2 }, "transcript lines not written")

	got := h.transcript.snapshot()
	if got[0] != "[you] Hallo" || got[1] != "[model] Hoi" {
		t.Errorf("unexpected transcript %q", got)
	}

	cancel()
	if err := h.wait(t); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPendingFragmentsFlushedOnShutdown(t *testing.T) {
	h := newHarness(t, Components{})
	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)

	h.session.events <- live.OutputTranscription{Text: "Tot ziens"}
	eventually(t, func() bool { return len(h.session.events) == 0 }, "event not consumed")
	time.Sleep(20 * time.Millisecond)

	cancel()
	h.wait(t)

	got := h.transcript.snapshot()
	if len(got) != 1 || got[0] != "[model] Tot ziens" {
		t.Errorf("unexpected transcript %q", got)
	}
}

func TestToolCallHandledOnce(t *testing.T) {
	h := newHarness(t, Components{})
	h.start(context.Background())

	call := live.FunctionCall{ID: "c1", Name: "end_intake_and_summarize"}
	h.session.events <- live.ToolCall{Calls: []live.FunctionCall{call}}
	h.session.events <- live.ToolCall{Calls: []live.FunctionCall{call}, Embedded: true}

	if err := h.wait(t); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := h.summarizer.count(); n != 1 {
		t.Errorf("expected one summary, got %d", n)
	}
	if h.engine.IntakeState() != StateEnded {
		t.Errorf("expected ended state, got %s", h.engine.IntakeState())
	}

	responses := h.session.sentResponses()
	if len(responses) != 1 {
		t.Fatalf("expected one tool response, got %d", len(responses))
	}
	r := responses[0]
	if r.ID != "c1" || r.Scheduling != live.SchedulingInterrupt {
		t.Errorf("unexpected response %+v", r)
	}
	if r.Response["result"] != "ok" || r.Response["file"] != "intake_summary.txt" {
		t.Errorf("unexpected response payload %v", r.Response)
	}

	texts := h.session.sentTexts()
	if len(texts) != 1 || texts[0] != "Dank je wel." {
		t.Errorf("expected closing utterance, got %q", texts)
	}
}

func TestToolCallSummaryFailureStillEnds(t *testing.T) {
	h := newHarness(t, Components{})
	h.summarizer.err = errors.New("disk full")
	h.start(context.Background())

	h.session.events <- live.ToolCall{Calls: []live.FunctionCall{{ID: "c1", Name: "end_intake_and_summarize"}}}

	if err := h.wait(t); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	responses := h.session.sentResponses()
	if len(responses) != 1 {
		t.Fatalf("expected one tool response, got %d", len(responses))
	}
	if responses[0].Response["result"] != "error" || responses[0].Response["message"] != "disk full" {
		t.Errorf("unexpected response payload %v", responses[0].Response)
	}
}

func TestUnknownToolCallIgnored(t *testing.T) {
	h := newHarness(t, Components{})
	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)

	h.session.events <- live.ToolCall{Calls: []live.FunctionCall{{ID: "x", Name: "book_appointment"}}}
	h.session.events <- live.TurnComplete{}
	time.Sleep(50 * time.Millisecond)

	if h.engine.IntakeState() != StateActive {
		t.Errorf("unknown tool must not end the intake, state %s", h.engine.IntakeState())
	}

	cancel()
	h.wait(t)
	if n := h.summarizer.count(); n != 0 {
		t.Errorf("expected no summary, got %d", n)
	}
}

func TestInterruptionDrainsPlayback(t *testing.T) {
	player := newFakePlayer(true)
	h := newHarness(t, Components{Player: player})
	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)

	h.session.events <- live.Audio{Data: []byte{1}}
	<-player.entered

	h.session.events <- live.Audio{Data: []byte{2}}
	h.session.events <- live.Audio{Data: []byte{3}}
	h.session.events <- live.Interrupted{}
	eventually(t, func() bool {
		_, resets := player.snapshot()
		return resets == 1
	}, "player was not reset")

	h.session.events <- live.Audio{Data: []byte{4}}
	time.Sleep(20 * time.Millisecond)
	close(player.release)

	eventually(t, func() bool {
		written, _ := player.snapshot()
		return len(written) == 2
	}, "playback did not resume")

	written, _ := player.snapshot()
	if !bytes.Equal(written[0], []byte{1}) || !bytes.Equal(written[1], []byte{4}) {
		t.Errorf("queued audio should have been dropped, played %v", written)
	}

	cancel()
	h.wait(t)
}

func TestTurnCompleteFlushesPlayer(t *testing.T) {
	h := newHarness(t, Components{})
	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)

	h.session.events <- live.Audio{Data: []byte{1, 0}}
	h.session.events <- live.Audio{Data: []byte{2, 0, 3}}
	h.session.events <- live.TurnComplete{}
	h.session.events <- live.Audio{Data: []byte{4, 0}}

	eventually(t, func() bool {
		written, _ := h.player.snapshot()
		return len(written) == 3
	}, "audio not played")

	if got := h.player.flushes(); len(got) != 1 || got[0] != 2 {
		t.Errorf("expected one flush after the first two buffers, got %v", got)
	}

	cancel()
	h.wait(t)
}

func TestUsageLoggedRaw(t *testing.T) {
	h := newHarness(t, Components{})
	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)

	h.session.events <- live.Usage{PromptTokens: 1, ResponseTokens: 2, TotalTokens: 3, Raw: `{"totalTokenCount":3}`}
	eventually(t, func() bool { return len(h.usage.snapshot()) == 1 }, "usage not logged")

	if got := h.usage.snapshot()[0]; got != `{"totalTokenCount":3}` {
		t.Errorf("unexpected usage line %q", got)
	}

	cancel()
	h.wait(t)
}

func TestCapturedFramesForwarded(t *testing.T) {
	frames := []audio.Frame{
		{Data: []byte{1, 0}, MIMEType: "audio/pcm;rate=16000"},
		{Data: []byte{2, 0}, MIMEType: "audio/pcm;rate=16000"},
	}
	h := newHarness(t, Components{Capturer: &fakeCapturer{frames: frames}})
	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)

	eventually(t, func() bool { return h.session.sentFrames() == 2 }, "frames not forwarded")

	cancel()
	h.wait(t)
}

func TestKeyboardInput(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	var out bytes.Buffer
	h := newHarness(t, Components{Input: r, Console: NewConsole(&out)})
	h.start(context.Background())

	io.WriteString(w, "Ik heb rugpijn\n")
	io.WriteString(w, "  pijn in de knie \n")
	io.WriteString(w, "\n")
	eventually(t, func() bool { return len(h.session.sentTexts()) == 3 }, "typed text not forwarded")

	io.WriteString(w, " Q \n")
	if err := h.wait(t); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	texts := h.session.sentTexts()
	want := []string{"Ik heb rugpijn", "  pijn in de knie ", ".", "."}
	if strings.Join(texts, "|") != strings.Join(want, "|") {
		t.Errorf("expected %q, got %q", want, texts)
	}
	if h.summarizer.count() != 0 {
		t.Error("quitting must not summarize")
	}
}

func TestReceiveErrorEndsRun(t *testing.T) {
	h := newHarness(t, Components{})
	h.start(context.Background())

	h.session.recvErr <- errors.New("connection reset")

	err := h.wait(t)
	if err == nil || !strings.Contains(err.Error(), "receive loop: connection reset") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestDeviceOpenErrorReturned(t *testing.T) {
	h := newHarness(t, Components{Capturer: &fakeCapturer{openErr: errors.New("no microphone")}})
	err := h.engine.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no microphone") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestRunTwice(t *testing.T) {
	h := newHarness(t, Components{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.engine.Run(ctx)
	if err := h.engine.Run(ctx); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}
