// Package gpt is a small client for the YandexGPT completion API.
package gpt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	YandexGPTEndpoint = "https://llm.api.cloud.yandex.net/foundationModels/v1/completion"

	defaultTimeout = 60 * time.Second
)

// ErrNoAlternatives is returned when a completion carries no text.
var ErrNoAlternatives = errors.New("yandexgpt returned no alternatives")

// APIError is a non-200 answer of the completion endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Body)
}

type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type CompletionOptions struct {
	Stream      bool    `json:"stream"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

type Request struct {
	ModelURI          string            `json:"modelUri"`
	CompletionOptions CompletionOptions `json:"completionOptions"`
	Messages          []Message         `json:"messages"`
}

type Alternative struct {
	Message Message `json:"message"`
	Status  string  `json:"status"`
}

// Usage reports token counts. The API encodes them as strings.
type Usage struct {
	InputTextTokens  string `json:"inputTextTokens"`
	CompletionTokens string `json:"completionTokens"`
	TotalTokens      string `json:"totalTokens"`
}

// Total returns the total token count, or 0 if it is missing.
func (u Usage) Total() int64 {
	n, _ := strconv.ParseInt(u.TotalTokens, 10, 64)
	return n
}

type Response struct {
	Result struct {
		Alternatives []Alternative `json:"alternatives"`
		Usage        Usage         `json:"usage"`
		ModelVersion string        `json:"modelVersion"`
	} `json:"result"`
}

// Text returns the text of the first alternative.
func (r *Response) Text() (string, error) {
	if len(r.Result.Alternatives) == 0 {
		return "", ErrNoAlternatives
	}
	return r.Result.Alternatives[0].Message.Text, nil
}

type Client struct {
	folderID   string
	iamToken   string
	endpoint   string
	httpClient *http.Client
}

type Option func(*Client)

// WithEndpoint overrides the completion URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a YandexGPT client for the given folder, authorized with
// an IAM token.
func NewClient(folderID, iamToken string, opts ...Option) *Client {
	c := &Client{
		folderID:   folderID,
		iamToken:   iamToken,
		endpoint:   YandexGPTEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ModelURI builds the model URI for a model in the client's folder.
func (c *Client) ModelURI(model string) string {
	return fmt.Sprintf("gpt://%s/%s/latest", c.folderID, model)
}

// Ask sends one user prompt, preceded by an optional system instruction, and
// returns the text of the answer.
func (c *Client) Ask(ctx context.Context, model, system, prompt string, options CompletionOptions) (string, error) {
	var messages []Message
	if system != "" {
		messages = append(messages, Message{Role: "system", Text: system})
	}
	messages = append(messages, Message{Role: "user", Text: prompt})

	resp, err := c.Complete(ctx, Request{
		ModelURI:          c.ModelURI(model),
		CompletionOptions: options,
		Messages:          messages,
	})
	if err != nil {
		return "", err
	}
	return resp.Text()
}

// Complete sends a completion request to the YandexGPT API.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.iamToken)
	httpReq.Header.Set("x-folder-id", c.folderID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var response Response
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &response, nil
}
