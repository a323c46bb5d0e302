package openai

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
)

// ErrEmptyResponse is returned when the model produces no choices.
var ErrEmptyResponse = errors.New("model returned no choices")

type chatGenerator struct {
	client      llms.Model
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

// Generate sends prompt behind the fixed system prompt. The first choice is
// returned exactly as the model produced it.
func (g *chatGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	opts := []llms.CallOption{llms.WithTemperature(g.temperature)}
	if g.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(g.maxTokens))
	}

	response, err := g.client.GenerateContent(ctx, messages, opts...)
	if err != nil {
		g.logger.Error("generation failed", "err", err)
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	answer := response.Choices[0].Content
	g.logger.Debug("generated answer", "prompt_length", len(prompt), "answer_length", len(answer))
	return answer, nil
}
