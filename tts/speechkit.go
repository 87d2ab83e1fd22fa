package tts

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	tts "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/tts/v3"
)

const SpeechKitEndpoint = "tts.api.cloud.yandex.net:443"

type SpeechKitConfig struct {
	APIKey   string
	FolderID string
}

// SpeechKitClient synthesizes loudness-normalized WAV utterances with Yandex
// SpeechKit v3.
type SpeechKitClient struct {
	client   tts.SynthesizerClient
	conn     *grpc.ClientConn
	apiKey   string
	folderID string
}

var _ Synthesizer = (*SpeechKitClient)(nil)

func NewSpeechKitClient(config SpeechKitConfig) (*SpeechKitClient, error) {
	conn, err := grpc.NewClient(SpeechKitEndpoint, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SpeechKit: %w", err)
	}
	return &SpeechKitClient{
		client:   tts.NewSynthesizerClient(conn),
		conn:     conn,
		apiKey:   config.APIKey,
		folderID: config.FolderID,
	}, nil
}

// Synthesize collects the streamed chunks of one utterance into a WAV file.
func (c *SpeechKitClient) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	ctx = metadata.AppendToOutgoingContext(ctx,
		"authorization", "Api-Key "+c.apiKey,
		"x-folder-id", c.folderID,
	)

	stream, err := c.client.UtteranceSynthesis(ctx, buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to start synthesis: %w", err)
	}

	var wav bytes.Buffer
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to receive audio: %w", err)
		}
		wav.Write(resp.GetAudioChunk().GetData())
	}

	if !IsWAV(wav.Bytes()) {
		return nil, fmt.Errorf("synthesis returned %d bytes without a WAV header", wav.Len())
	}
	return wav.Bytes(), nil
}

func buildRequest(r Request) *tts.UtteranceSynthesisRequest {
	req := &tts.UtteranceSynthesisRequest{}
	req.SetText(r.Text)

	voice := &tts.Hints{}
	voice.SetVoice(r.Voice.Name)
	hints := []*tts.Hints{voice}

	if r.Speed > 0 {
		speed := &tts.Hints{}
		speed.SetSpeed(r.Speed)
		hints = append(hints, speed)
	}
	req.SetHints(hints)

	container := &tts.ContainerAudio{}
	container.SetContainerAudioType(tts.ContainerAudio_WAV)
	spec := &tts.AudioFormatOptions{}
	spec.SetContainerAudio(container)
	req.SetOutputAudioSpec(spec)

	req.SetLoudnessNormalizationType(tts.UtteranceSynthesisRequest_LUFS)
	return req
}

func (c *SpeechKitClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
