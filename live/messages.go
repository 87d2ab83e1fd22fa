package live

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Wire format of the BidiGenerateContent websocket protocol. Only the fields
// this application sends or reads are modelled.

type clientMessage struct {
	Setup         *setupMessage  `json:"setup,omitempty"`
	ClientContent *clientContent `json:"clientContent,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *toolResponse  `json:"toolResponse,omitempty"`
}

type setupMessage struct {
	Model                    string                    `json:"model"`
	GenerationConfig         *generationConfig         `json:"generationConfig,omitempty"`
	SystemInstruction        *content                  `json:"systemInstruction,omitempty"`
	Tools                    []tool                    `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}                 `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}                 `json:"outputAudioTranscription,omitempty"`
	ContextWindowCompression *contextWindowCompression `json:"contextWindowCompression,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	LanguageCode string       `json:"languageCode,omitempty"`
	VoiceConfig  *voiceConfig `json:"voiceConfig,omitempty"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig *prebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type contextWindowCompression struct {
	TriggerTokens int64          `json:"triggerTokens,omitempty"`
	SlidingWindow *slidingWindow `json:"slidingWindow,omitempty"`
}

type slidingWindow struct {
	TargetTokens int64 `json:"targetTokens,omitempty"`
}

type tool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Parameters  *schema `json:"parameters,omitempty"`
	Behavior    string  `json:"behavior,omitempty"`
}

type schema struct {
	Type       string            `json:"type"`
	Properties map[string]schema `json:"properties"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text         string        `json:"text,omitempty"`
	InlineData   *blob         `json:"inlineData,omitempty"`
	FunctionCall *functionCall `json:"functionCall,omitempty"`
}

type blob struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type clientContent struct {
	Turns        []content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

type realtimeInput struct {
	Audio *blob `json:"audio,omitempty"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name"`
	Response   map[string]any `json:"response"`
	Scheduling string         `json:"scheduling,omitempty"`
}

type functionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type serverMessage struct {
	SetupComplete *struct{}       `json:"setupComplete,omitempty"`
	ServerContent *serverContent  `json:"serverContent,omitempty"`
	ToolCall      *toolCall       `json:"toolCall,omitempty"`
	UsageMetadata json.RawMessage `json:"usageMetadata,omitempty"`
	GoAway        *goAway         `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type toolCall struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type usageMetadata struct {
	PromptTokenCount     int64 `json:"promptTokenCount"`
	ResponseTokenCount   int64 `json:"responseTokenCount"`
	CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	TotalTokenCount      int64 `json:"totalTokenCount"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

func newSetupMessage(cfg Config) *setupMessage {
	setup := &setupMessage{
		Model: cfg.Model,
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{
				LanguageCode: cfg.Language,
			},
		},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}

	if cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig.VoiceConfig = &voiceConfig{
			PrebuiltVoiceConfig: &prebuiltVoiceConfig{VoiceName: cfg.Voice},
		}
	}

	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}

	if cfg.TriggerTokens > 0 {
		setup.ContextWindowCompression = &contextWindowCompression{
			TriggerTokens: cfg.TriggerTokens,
			SlidingWindow: &slidingWindow{TargetTokens: cfg.TargetTokens},
		}
	}

	if len(cfg.Tools) > 0 {
		decls := make([]functionDeclaration, 0, len(cfg.Tools))
		for _, t := range cfg.Tools {
			decls = append(decls, functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  &schema{Type: "OBJECT", Properties: map[string]schema{}},
				Behavior:    "NON_BLOCKING",
			})
		}
		setup.Tools = []tool{{FunctionDeclarations: decls}}
	}

	return setup
}

// decodeServerMessage turns one server message into events, in the order the
// receive loop handles them. setupDone reports a setupComplete acknowledgement.
func decodeServerMessage(data []byte) (events []Event, setupDone bool, err error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false, fmt.Errorf("failed to decode server message: %w", err)
	}

	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
		events = append(events, ToolCall{Calls: convertCalls(msg.ToolCall.FunctionCalls)})
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			events = append(events, InputTranscription{Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			events = append(events, OutputTranscription{Text: sc.OutputTranscription.Text})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.FunctionCall != nil {
					events = append(events, ToolCall{
						Calls:    convertCalls([]functionCall{*p.FunctionCall}),
						Embedded: true,
					})
					continue
				}
				if p.InlineData != nil && len(p.InlineData.Data) > 0 {
					events = append(events, Audio{Data: p.InlineData.Data, MIMEType: p.InlineData.MIMEType})
				}
			}
		}
	}

	if len(msg.UsageMetadata) > 0 && !bytes.Equal(msg.UsageMetadata, []byte("null")) {
		var um usageMetadata
		if err := json.Unmarshal(msg.UsageMetadata, &um); err == nil {
			var raw bytes.Buffer
			if json.Compact(&raw, msg.UsageMetadata) != nil {
				raw.Reset()
				raw.Write(msg.UsageMetadata)
			}
			response := um.ResponseTokenCount
			if response == 0 {
				response = um.CandidatesTokenCount
			}
			events = append(events, Usage{
				PromptTokens:   um.PromptTokenCount,
				ResponseTokens: response,
				TotalTokens:    um.TotalTokenCount,
				Raw:            raw.String(),
			})
		}
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			events = append(events, Interrupted{})
		}
		if sc.TurnComplete {
			events = append(events, TurnComplete{})
		}
	}

	if msg.GoAway != nil {
		events = append(events, GoAway{TimeLeft: msg.GoAway.TimeLeft})
	}

	return events, msg.SetupComplete != nil, nil
}

func convertCalls(calls []functionCall) []FunctionCall {
	out := make([]FunctionCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, FunctionCall{ID: c.ID, Name: c.Name, Args: c.Args})
	}
	return out
}
