package oracle

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaClient talks to a local Ollama server.
type OllamaClient struct {
	llm         *ollama.LLM
	temperature float64
}

// NewOllama creates a client for the configured model.
func NewOllama(s Settings) (*OllamaClient, error) {
	opts := []ollama.Option{ollama.WithModel(s.Model)}
	if s.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(s.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &OllamaClient{llm: llm, temperature: s.Temperature}, nil
}

func (c *OllamaClient) Complete(ctx context.Context, req Request) (string, error) {
	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.System),
		llms.TextParts(llms.ChatMessageTypeHuman, req.User),
	}
	resp, err := c.llm.GenerateContent(ctx, msgs, llms.WithTemperature(c.temperature))
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("ollama generate: no choices returned")
	}
	return resp.Choices[0].Content, nil
}
