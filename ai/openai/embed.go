package openai

import (
	"context"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
)

type textEmbedder struct {
	embedder embeddings.Embedder
	logger   *slog.Logger
}

func (e *textEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		e.logger.Error("embedding failed", "length", len(text), "err", err)
		return nil, err
	}
	return vector, nil
}

func (e *textEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("embedding batch", "count", len(texts))
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("batch embedding failed", "count", len(texts), "err", err)
		return nil, err
	}
	return vectors, nil
}
