package sound

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gordonklaus/portaudio"
	"github.com/hajimehoshi/go-mp3"

	"github.com/d1nch8g/intake/audio"
)

// Clip is decoded interleaved 16-bit PCM.
type Clip struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// LoadClip decodes a WAV or MP3 file, chosen by extension.
func LoadClip(path string) (*Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return DecodeMP3(bytes.NewReader(data))
	default:
		return DecodeWAV(data)
	}
}

// DecodeWAV decodes a PCM-16 RIFF/WAVE file. Chunks other than "fmt " and
// "data" are skipped.
func DecodeWAV(data []byte) (*Clip, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, errors.New("invalid WAV file: missing RIFF/WAVE header")
	}

	var (
		clip   Clip
		bits   uint16
		format uint16
		gotFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, errors.New("invalid WAV file: short fmt chunk")
			}
			format = binary.LittleEndian.Uint16(data[body:])
			clip.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			clip.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = binary.LittleEndian.Uint16(data[body+14:])
			gotFmt = true
		case "data":
			if !gotFmt {
				return nil, errors.New("invalid WAV file: data chunk before fmt chunk")
			}
			if format != 1 {
				return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format)
			}
			if bits != 16 {
				return nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", bits)
			}
			clip.Samples = audio.BytesToSamples(data[body:end])
			return &clip, nil
		}

		// chunks are word aligned
		pos = body + size + size%2
	}

	return nil, errors.New("invalid WAV file: missing data chunk")
}

// DecodeMP3 decodes an MP3 stream. The decoder always yields 16-bit stereo.
func DecodeMP3(r io.Reader) (*Clip, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open mp3 stream: %w", err)
	}

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mp3 stream: %w", err)
	}

	return &Clip{
		Samples:    audio.BytesToSamples(data),
		SampleRate: dec.SampleRate(),
		Channels:   2,
	}, nil
}

// PlayGreeting plays a clip file once on its own output stream at the clip's
// native rate.
func PlayGreeting(path string, framesPerBuffer int) error {
	clip, err := LoadClip(path)
	if err != nil {
		return err
	}
	if clip.Channels < 1 || clip.SampleRate <= 0 {
		return fmt.Errorf("invalid clip format: %d channels at %d Hz", clip.Channels, clip.SampleRate)
	}

	if err := portaudio.Initialize(); err != nil {
		return err
	}
	defer portaudio.Terminate()

	buf := make([]int16, framesPerBuffer*clip.Channels)
	stream, err := portaudio.OpenDefaultStream(0, clip.Channels, float64(clip.SampleRate), framesPerBuffer, buf)
	if err != nil {
		return fmt.Errorf("failed to open greeting stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return err
	}
	defer stream.Stop()

	for off := 0; off < len(clip.Samples); off += len(buf) {
		n := copy(buf, clip.Samples[off:])
		clear(buf[n:])
		if err := stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return err
		}
	}
	return nil
}
