package audio

import (
	"context"
	"fmt"
)

// Frame is one buffer of raw little-endian 16-bit PCM tagged with its MIME type.
type Frame struct {
	Data     []byte
	MIMEType string
}

// PCMType returns the MIME type label for 16-bit PCM at the given rate.
func PCMType(sampleRate float64) string {
	return fmt.Sprintf("audio/pcm;rate=%d", int(sampleRate))
}

// Capturer defines the interface for microphone capture implementations
type Capturer interface {
	// Initialize initializes the audio system
	Initialize() error

	// Terminate terminates the audio system
	Terminate()

	// Open opens the input stream with configured parameters
	Open() error

	// Close closes the input stream
	Close() error

	// StartCapture reads frames until ctx is cancelled and hands each one to
	// emit. A blocking emit blocks the capture loop.
	StartCapture(ctx context.Context, emit func(context.Context, Frame) error) error
}
