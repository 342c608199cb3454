package clients

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tbourn/resume-intake-bot/internal/services"
)

const (
	resumeMaxTokens   = 2200
	translationPrompt = "Translate any detected language into English."
)

// OpenAI serves resume generation (chat completions) and voice answer
// translation (Whisper) with the official SDK.
type OpenAI struct {
	client openai.Client
	model  string
}

var (
	_ services.Completer   = (*OpenAI)(nil)
	_ services.Transcriber = (*OpenAI)(nil)
)

// NewOpenAI builds a client. baseURL may be empty for the public API.
// Retries are left to the handoff outbox.
func NewOpenAI(apiKey, baseURL, model string, httpClient *http.Client) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}
}

// Complete runs a deterministic single-prompt completion.
func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature: openai.Float(0),
		MaxTokens:   openai.Int(resumeMaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", services.ErrEmptyCompletion
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// TranslateAudio sends audio to the translation endpoint, which answers in
// English regardless of the spoken language.
func (o *OpenAI) TranslateAudio(ctx context.Context, filename string, audio []byte) (string, error) {
	resp, err := o.client.Audio.Translations.New(ctx, openai.AudioTranslationNewParams{
		File:        openai.File(bytes.NewReader(audio), filename, "audio/mpeg"),
		Model:       openai.AudioModelWhisper1,
		Prompt:      openai.String(translationPrompt),
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return "", fmt.Errorf("openai translation: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
