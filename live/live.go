// Package live talks to a hosted speech-to-speech conversational model over a
// single bidirectional streaming session.
package live

import (
	"context"
	"errors"

	"github.com/d1nch8g/intake/audio"
)

// ErrClosed is returned once the session has been closed locally or by the peer.
var ErrClosed = errors.New("live session closed")

// Session is one open conversation with the remote model.
type Session interface {
	// SendAudio streams one captured frame as realtime input.
	SendAudio(ctx context.Context, frame audio.Frame) error

	// SendText sends typed text as a user turn.
	SendText(ctx context.Context, text string, endOfTurn bool) error

	// SendToolResponse answers one or more function calls.
	SendToolResponse(ctx context.Context, responses ...FunctionResponse) error

	// Receive blocks until the next event is available.
	Receive(ctx context.Context) (Event, error)

	// Close ends the session.
	Close() error
}

// Config describes how the session is set up.
type Config struct {
	APIKey            string
	Model             string
	SystemInstruction string
	Voice             string
	Language          string
	TriggerTokens     int64
	TargetTokens      int64
	Tools             []FunctionDeclaration
}

// FunctionDeclaration declares a tool the model may call.
type FunctionDeclaration struct {
	Name        string
	Description string
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Scheduling tells the model how to handle a late tool result. An empty
// value leaves the choice to the server.
type Scheduling string

// SchedulingInterrupt makes the model act on the result right away.
const SchedulingInterrupt Scheduling = "INTERRUPT"

// FunctionResponse is the application's answer to a FunctionCall.
type FunctionResponse struct {
	ID         string
	Name       string
	Response   map[string]any
	Scheduling Scheduling
}

// Event is one decoded server event. The concrete types below are the only
// implementations.
type Event interface {
	isEvent()
}

// ToolCall carries function calls. Embedded is set when the call arrived as a
// part of the model turn rather than as a top-level tool call.
type ToolCall struct {
	Calls    []FunctionCall
	Embedded bool
}

// InputTranscription is a fragment of the transcription of the user's audio.
type InputTranscription struct {
	Text string
}

// OutputTranscription is a fragment of the transcription of the model's audio.
type OutputTranscription struct {
	Text string
}

// Audio is a chunk of synthesized speech.
type Audio struct {
	Data     []byte
	MIMEType string
}

// Usage is token metering for the current response.
type Usage struct {
	PromptTokens   int64
	ResponseTokens int64
	TotalTokens    int64
	Raw            string
}

// Interrupted reports that the user started speaking over the model.
type Interrupted struct{}

// TurnComplete marks the end of the model's turn.
type TurnComplete struct{}

// GoAway announces that the server will close the connection soon.
type GoAway struct {
	TimeLeft string
}

func (ToolCall) isEvent()            {}
func (InputTranscription) isEvent()  {}
func (OutputTranscription) isEvent() {}
func (Audio) isEvent()               {}
func (Usage) isEvent()               {}
func (Interrupted) isEvent()         {}
func (TurnComplete) isEvent()        {}
func (GoAway) isEvent()              {}
