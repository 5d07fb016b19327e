package transcribe

import (
	"context"
	"fmt"
	"io"

	"echonote/config"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider transcribes audio through an OpenAI-compatible audio API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a provider from configuration.
func NewOpenAIProvider(cfg *config.Config) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.TranscribeAPIKey)
	if cfg.TranscribeBaseURL != "" {
		clientConfig.BaseURL = cfg.TranscribeBaseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.TranscribeModel,
	}
}

// Transcribe sends the audio to the service and returns the plain text.
func (p *OpenAIProvider) Transcribe(ctx context.Context, audio io.Reader, fileName string) (string, error) {
	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.model,
		Reader:   audio,
		FilePath: fileName,
	})
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	return resp.Text, nil
}
