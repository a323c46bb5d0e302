// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package openai

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/tenantrag/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider serves embeddings and answers from OpenAI-compatible endpoints.
// Embedding and generation may live on different hosts, so each gets its
// own client.
type Provider struct {
	embedder  *textEmbedder
	generator *chatGenerator
	logger    *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider) error

// WithLogger sets the logger used by the provider and its services.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		p.logger = logger
		return nil
	}
}

// NewProvider validates config and connects both services. No request is
// made until the first embedding or generation call.
func NewProvider(config *ai.Config, opts ...Option) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	embedClient, err := dial(config.EmbeddingHost, config.Token, openai.WithEmbeddingModel(config.EmbeddingModel))
	if err != nil {
		return nil, err
	}
	// Chunk text keeps its newlines so spans embed as they were stored.
	embedder, err := embeddings.NewEmbedder(embedClient, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("embedding client: %w", err)
	}
	p.embedder = &textEmbedder{
		embedder: embedder,
		logger:   p.logger.With("component", "openai-embedder", "model", config.EmbeddingModel),
	}

	chatClient, err := dial(config.GenerationHost, config.Token, openai.WithModel(config.GenerationModel))
	if err != nil {
		return nil, err
	}
	p.generator = &chatGenerator{
		client:      chatClient,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		logger:      p.logger.With("component", "openai-generator", "model", config.GenerationModel),
	}

	p.logger = p.logger.With("component", "openai-provider")
	return p, nil
}

func dial(host, token string, model openai.Option) (*openai.LLM, error) {
	client, err := openai.New(openai.WithBaseURL(host), openai.WithToken(token), model)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", host, err)
	}
	return client, nil
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Generator returns the answer generation service.
func (p *Provider) Generator() ai.Generator {
	return p.generator
}

// Close is a no-op; the HTTP clients hold no resources that need releasing.
func (p *Provider) Close() error {
	p.logger.Debug("closing provider")
	return nil
}
