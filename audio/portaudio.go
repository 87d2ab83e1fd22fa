package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gordonklaus/portaudio"
)

type Config struct {
	SampleRate      float64
	FramesPerBuffer int
	InputChannels   int
}

// inputStream is the part of *portaudio.Stream the capturer drives.
type inputStream interface {
	Start() error
	Stop() error
	Read() error
	Close() error
}

type PortaudioCapturer struct {
	stream      inputStream
	audioBuffer []int16
	config      Config
	logger      *slog.Logger
}

var _ Capturer = (*PortaudioCapturer)(nil)

func NewPortaudioCapturer(config Config, logger *slog.Logger) *PortaudioCapturer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortaudioCapturer{
		config:      config,
		audioBuffer: make([]int16, config.FramesPerBuffer*config.InputChannels),
		logger:      logger,
	}
}

func (a *PortaudioCapturer) Initialize() error {
	return portaudio.Initialize()
}

func (a *PortaudioCapturer) Terminate() {
	portaudio.Terminate()
}

func (a *PortaudioCapturer) Open() error {
	stream, err := portaudio.OpenDefaultStream(
		a.config.InputChannels,
		0,
		a.config.SampleRate,
		a.config.FramesPerBuffer,
		a.audioBuffer,
	)
	if err != nil {
		return err
	}
	a.stream = stream
	return nil
}

func (a *PortaudioCapturer) Close() error {
	if a.stream != nil {
		return a.stream.Close()
	}
	return nil
}

func (a *PortaudioCapturer) StartCapture(ctx context.Context, emit func(context.Context, Frame) error) error {
	if a.stream == nil {
		return errors.New("stream not opened")
	}

	if err := a.stream.Start(); err != nil {
		return err
	}
	defer a.stream.Stop()

	mimeType := PCMType(a.config.SampleRate)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := a.stream.Read(); err != nil {
			// Input overflow only means we were late; the buffer still holds audio.
			if !errors.Is(err, portaudio.InputOverflowed) {
				return fmt.Errorf("failed to read audio: %w", err)
			}
			a.logger.Debug("input overflowed")
		}

		frame := Frame{Data: SamplesToBytes(a.audioBuffer), MIMEType: mimeType}
		if err := emit(ctx, frame); err != nil {
			return err
		}
	}
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM into a new slice.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToSamples decodes little-endian 16-bit PCM. A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}
