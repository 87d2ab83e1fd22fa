package audio

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/gordonklaus/portaudio"
)

func TestSamplesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234}
	data := SamplesToBytes(samples)

	want := []byte{0, 0, 1, 0, 0xff, 0xff, 0xff, 0x7f, 0x00, 0x80, 0xd2, 0x04}
	if !bytes.Equal(data, want) {
		t.Fatalf("unexpected encoding %v", data)
	}

	got := BytesToSamples(data)
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: expected %d, got %d", i, samples[i], got[i])
		}
	}
}

func TestBytesToSamplesIgnoresOddByte(t *testing.T) {
	got := BytesToSamples([]byte{1, 0, 7})
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("unexpected samples %v", got)
	}
}

func TestPCMType(t *testing.T) {
	if got := PCMType(16000); got != "audio/pcm;rate=16000" {
		t.Errorf("unexpected mime type %q", got)
	}
}

func TestSamplesToBytesCopies(t *testing.T) {
	buf := []int16{5}
	data := SamplesToBytes(buf)
	buf[0] = 9
	if BytesToSamples(data)[0] != 5 {
		t.Error("frame data must not alias the capture buffer")
	}
}

type fakeStream struct {
	reads   []error
	calls   int
	stopped bool
}

func (s *fakeStream) Start() error { return nil }
func (s *fakeStream) Stop() error  { s.stopped = true; return nil }
func (s *fakeStream) Close() error { return nil }

func (s *fakeStream) Read() error {
	s.calls++
	if len(s.reads) == 0 {
		return nil
	}
	err := s.reads[0]
	s.reads = s.reads[1:]
	return err
}

func TestStartCaptureReadError(t *testing.T) {
	deviceLost := errors.New("device unavailable")

	tests := []struct {
		name      string
		reads     []error
		wantEmits int
	}{
		{"first read fails", []error{deviceLost}, 0},
		{"overflow is tolerated", []error{portaudio.InputOverflowed, nil, deviceLost}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := &fakeStream{reads: tt.reads}
			c := NewPortaudioCapturer(Config{SampleRate: 16000, FramesPerBuffer: 4, InputChannels: 1}, nil)
			c.stream = stream

			emits := 0
			err := c.StartCapture(context.Background(), func(context.Context, Frame) error {
				emits++
				return nil
			})
			if !errors.Is(err, deviceLost) {
				t.Fatalf("expected device error, got %v", err)
			}
			if emits != tt.wantEmits {
				t.Errorf("expected %d frames, got %d", tt.wantEmits, emits)
			}
			if stream.calls != len(tt.reads) {
				t.Errorf("expected %d reads, got %d", len(tt.reads), stream.calls)
			}
			if !stream.stopped {
				t.Error("stream was not stopped")
			}
		})
	}
}

func TestStartCaptureNotOpened(t *testing.T) {
	c := NewPortaudioCapturer(Config{SampleRate: 16000, FramesPerBuffer: 4, InputChannels: 1}, nil)
	if err := c.StartCapture(context.Background(), nil); err == nil {
		t.Fatal("expected error for unopened stream")
	}
}
