package summary

import (
	"context"

	"github.com/d1nch8g/intake/gpt"
)

// YandexGenerator generates text with YandexGPT.
type YandexGenerator struct {
	client *gpt.Client
	model  string
}

var _ Generator = (*YandexGenerator)(nil)

// NewYandexGenerator uses the given model name, e.g. "yandexgpt" or "yandexgpt-lite".
func NewYandexGenerator(client *gpt.Client, model string) *YandexGenerator {
	if model == "" {
		model = "yandexgpt"
	}
	return &YandexGenerator{client: client, model: model}
}

func (y *YandexGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return y.client.Ask(ctx, y.model, "", prompt, gpt.CompletionOptions{
		MaxTokens:   2000,
		Temperature: 0.3,
	})
}
