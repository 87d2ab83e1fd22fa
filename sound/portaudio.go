package sound

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/d1nch8g/intake/audio"
)

type PlayerConfig struct {
	SampleRate      float64
	FramesPerBuffer int
	OutputChannels  int
}

// outputStream is the part of *portaudio.Stream the player drives.
type outputStream interface {
	Start() error
	Stop() error
	Write() error
	Close() error
}

// PortaudioPlayer writes PCM to the default output device. Incoming buffers
// rarely line up with the device buffer, so the remainder of each Write is
// carried over to the next one.
type PortaudioPlayer struct {
	stream      outputStream
	audioBuffer []int16
	config      PlayerConfig
	logger      *slog.Logger

	mu      sync.Mutex
	pending []int16
	started bool
}

var _ Player = (*PortaudioPlayer)(nil)

func NewPortaudioPlayer(config PlayerConfig, logger *slog.Logger) *PortaudioPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortaudioPlayer{
		config:      config,
		audioBuffer: make([]int16, config.FramesPerBuffer*config.OutputChannels),
		logger:      logger,
	}
}

func (p *PortaudioPlayer) Initialize() error {
	return portaudio.Initialize()
}

func (p *PortaudioPlayer) Open() error {
	stream, err := portaudio.OpenDefaultStream(
		0,
		p.config.OutputChannels,
		p.config.SampleRate,
		p.config.FramesPerBuffer,
		p.audioBuffer,
	)
	if err != nil {
		return err
	}
	p.stream = stream
	return nil
}

func (p *PortaudioPlayer) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.start(); err != nil {
		return err
	}

	p.pending = append(p.pending, audio.BytesToSamples(pcm)...)
	for len(p.pending) >= len(p.audioBuffer) {
		copy(p.audioBuffer, p.pending)
		p.pending = p.pending[len(p.audioBuffer):]

		if err := p.writeBuffer(); err != nil {
			return err
		}
	}

	// Keep the backing array from growing without bound.
	if cap(p.pending) > 4*len(p.audioBuffer) {
		p.pending = append([]int16(nil), p.pending...)
	}
	return nil
}

// Flush plays the samples held back from the last Write, padded with
// silence to a full device buffer.
func (p *PortaudioPlayer) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) == 0 {
		return nil
	}
	if err := p.start(); err != nil {
		return err
	}

	n := copy(p.audioBuffer, p.pending)
	clear(p.audioBuffer[n:])
	p.pending = nil
	return p.writeBuffer()
}

func (p *PortaudioPlayer) start() error {
	if p.stream == nil {
		return errors.New("stream not opened")
	}
	if !p.started {
		if err := p.stream.Start(); err != nil {
			return err
		}
		p.started = true
	}
	return nil
}

func (p *PortaudioPlayer) writeBuffer() error {
	if err := p.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
		return err
	}
	return nil
}

func (p *PortaudioPlayer) Reset() {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
}

func (p *PortaudioPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	if p.started {
		if err := p.stream.Stop(); err != nil {
			p.logger.Warn("error stopping output stream", slog.String("error", err.Error()))
		}
		p.started = false
	}
	return p.stream.Close()
}

func (p *PortaudioPlayer) Terminate() {
	portaudio.Terminate()
}
