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

// Package tenantrag is a multi-tenant retrieval-augmented question answering
// engine. Documents uploaded by a tenant are chunked, embedded and indexed in
// the background; queries are answered from that tenant's corpus only.
package tenantrag

import (
	"context"
	"errors"
	"log/slog"

	"github.com/poiesic/tenantrag/ai"
	"github.com/poiesic/tenantrag/ai/openai"
	"github.com/poiesic/tenantrag/chunker"
	"github.com/poiesic/tenantrag/config"
	"github.com/poiesic/tenantrag/core"
	"github.com/poiesic/tenantrag/embedding"
	"github.com/poiesic/tenantrag/index"
	"github.com/poiesic/tenantrag/ingestion"
	"github.com/poiesic/tenantrag/orchestrator"
	"github.com/poiesic/tenantrag/query"
	"github.com/poiesic/tenantrag/reindex"
	"github.com/poiesic/tenantrag/retry"
	"github.com/poiesic/tenantrag/storage"
	"github.com/poiesic/tenantrag/storage/badger"
)

// Engine ties storage, the AI provider and the processing components together.
type Engine struct {
	cfg          *config.Config
	backend      *badger.Backend
	repos        *storage.Repositories
	provider     ai.AIProvider
	gateway      *embedding.Gateway
	index        *index.Manager
	pipeline     *ingestion.Pipeline
	orchestrator *orchestrator.Orchestrator
	query        *query.Engine
	logger       *slog.Logger
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	cfg      *config.Config
	provider ai.AIProvider
	logger   *slog.Logger
}

// WithConfig sets the engine configuration. Defaults to config.Default().
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithAIProvider supplies the embedding and generation services instead of
// connecting to the OpenAI-compatible hosts in the configuration.
// The engine does not close a supplied provider.
func WithAIProvider(provider ai.AIProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Open opens or creates the engine database at path and starts background
// ingestion. An empty path uses the configured storage path, or an in-memory
// database when the configuration asks for one.
func Open(path string, opts ...Option) (_ *Engine, err error) {
	o := &options{
		cfg:    config.Default(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg == nil {
		o.cfg = config.Default()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	cfg := o.cfg
	if path == "" && !cfg.Storage.InMemory {
		path = cfg.Storage.Path
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, logger: o.logger}
	defer func() {
		if err != nil {
			e.shutdown(context.Background())
		}
	}()

	e.backend, err = badger.OpenBackend(path, cfg.Storage.InMemory && path == "")
	if err != nil {
		return nil, err
	}
	e.repos = badger.NewRepositories(e.backend)

	e.provider = o.provider
	if e.provider == nil {
		provider, err := openai.NewProvider(cfg.ToAI(), openai.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		e.provider = &ownedProvider{provider}
	}

	if e.gateway, err = newGateway(cfg, e.provider.Embedder(), o.logger); err != nil {
		return nil, err
	}
	if e.index, err = newIndex(cfg, e.repos.Snapshots, o.logger); err != nil {
		return nil, err
	}

	unit, err := cfg.ChunkUnit()
	if err != nil {
		return nil, err
	}
	split, err := chunker.New(
		chunker.WithSize(cfg.Chunking.Size),
		chunker.WithOverlap(cfg.Chunking.Overlap),
		chunker.WithUnit(unit),
	)
	if err != nil {
		return nil, err
	}
	e.pipeline, err = ingestion.NewPipeline(e.repos.Documents, e.repos.Chunks, e.gateway, e.index,
		ingestion.WithChunker(split),
		ingestion.WithBatchSize(cfg.Ingestion.BatchSize),
		ingestion.WithEmbedConcurrency(cfg.Ingestion.EmbedConcurrency),
		ingestion.WithLogger(o.logger),
	)
	if err != nil {
		return nil, err
	}

	e.orchestrator, err = orchestrator.New(e.repos.Tasks, e.pipeline,
		orchestrator.WithWorkers(cfg.Tasks.Workers),
		orchestrator.WithMaxQueueDepth(cfg.Tasks.MaxQueueDepth),
		orchestrator.WithMaxAttempts(cfg.Tasks.MaxAttempts),
		orchestrator.WithBackoff(cfg.Tasks.BaseDelay, cfg.Tasks.MaxDelay),
		orchestrator.WithTaskTimeout(cfg.Tasks.Timeout),
		orchestrator.WithLogger(o.logger),
	)
	if err != nil {
		return nil, err
	}

	e.query, err = query.NewEngine(e.repos.Chunks, e.gateway, e.index, e.provider.Generator(),
		query.WithCandidateFactor(cfg.Query.CandidateFactor),
		query.WithFreshnessWeight(cfg.Query.FreshnessWeight),
		query.WithGenerationTimeout(cfg.Query.GenerationTimeout),
		query.WithFallbackAnswer(cfg.Query.FallbackAnswer),
		query.WithLogger(o.logger),
	)
	if err != nil {
		return nil, err
	}

	if err := e.orchestrator.Start(context.Background()); err != nil {
		return nil, err
	}
	e.logger.Info("engine opened", "path", path, "in_memory", cfg.Storage.InMemory && path == "")
	return e, nil
}

func newGateway(cfg *config.Config, embedder ai.Embedder, logger *slog.Logger) (*embedding.Gateway, error) {
	opts := []embedding.Option{
		embedding.WithTimeout(cfg.Embedding.Timeout),
		embedding.WithMaxBatch(cfg.Embedding.MaxBatch),
		embedding.WithLogger(logger),
	}
	if cfg.Embedding.RateLimit > 0 {
		burst := max(cfg.Embedding.Burst, 1)
		opts = append(opts, embedding.WithRateLimit(cfg.Embedding.RateLimit, burst))
	}
	if cfg.Embedding.Dimension > 0 {
		opts = append(opts, embedding.WithDimension(cfg.Embedding.Dimension))
	}
	return embedding.NewGateway(embedder, opts...)
}

func newIndex(cfg *config.Config, snapshots storage.SnapshotRepository, logger *slog.Logger) (*index.Manager, error) {
	metric, err := index.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return nil, err
	}
	opts := []index.Option{
		index.WithMetric(metric),
		index.WithCompactionRatio(cfg.Index.CompactionRatio),
		index.WithMaxMemory(cfg.Index.MaxMemory),
		index.WithLogger(logger),
	}
	if cfg.Embedding.Dimension > 0 {
		opts = append(opts, index.WithDimension(cfg.Embedding.Dimension))
	}
	return index.NewManager(snapshots, opts...)
}

// Upload records text as the next version of a tenant's document and queues
// it for ingestion. Re-uploading unchanged text returns the task of the
// existing version.
func (e *Engine) Upload(ctx context.Context, tenant core.TenantID, documentID, name, text string) (*core.Task, error) {
	doc, err := e.pipeline.Register(ctx, tenant, documentID, name, text, core.SourceAPI)
	if err != nil {
		return nil, err
	}
	return e.orchestrator.Submit(ctx, orchestrator.Job{
		TenantID:   tenant,
		DocumentID: documentID,
		Version:    doc.Version,
		Text:       text,
	})
}

// Query answers question from tenant's corpus using at most topK sources.
// A topK of zero uses the configured default. opts apply to this query only,
// e.g. query.FreshnessWeight.
func (e *Engine) Query(ctx context.Context, tenant core.TenantID, question string, topK int, opts ...query.QueryOption) (*core.Answer, error) {
	if topK == 0 {
		topK = e.cfg.Query.TopK
	}
	return e.query.Query(ctx, tenant, question, topK, opts...)
}

// TaskStatus returns the state of an ingestion task.
func (e *Engine) TaskStatus(ctx context.Context, taskID string) (core.TaskStatus, error) {
	return e.orchestrator.Status(ctx, taskID)
}

// CancelTask cancels an ingestion task that has not started running.
func (e *Engine) CancelTask(ctx context.Context, taskID string) (*core.Task, error) {
	return e.orchestrator.Cancel(ctx, taskID)
}

// WaitTask blocks until an ingestion task reaches a terminal state.
func (e *Engine) WaitTask(ctx context.Context, taskID string) (*core.Task, error) {
	return e.orchestrator.Wait(ctx, taskID)
}

// Documents lists every version of every document of tenant.
func (e *Engine) Documents(ctx context.Context, tenant core.TenantID) ([]*core.Document, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	return e.repos.Documents.ListDocuments(ctx, tenant)
}

// Reindex re-embeds every active chunk of tenant and rebuilds its index.
// Uploads for the tenant should not run concurrently. progress may be nil.
func (e *Engine) Reindex(ctx context.Context, tenant core.TenantID, progress reindex.Progress) (*reindex.Report, error) {
	// A new model may produce a new dimension, so the rebuild learns it
	// from scratch.
	gateway, err := newGateway(e.cfg, e.provider.Embedder(), e.logger)
	if err != nil {
		return nil, err
	}
	r := reindex.NewReindexer(e.repos.Chunks, gateway, e.index, &reindex.Config{
		BatchSize: e.cfg.Ingestion.BatchSize,
		Retry: retry.Policy{
			MaxAttempts: e.cfg.Tasks.MaxAttempts,
			BaseDelay:   e.cfg.Tasks.BaseDelay,
			MaxDelay:    e.cfg.Tasks.MaxDelay,
		},
	}, progress)
	report, err := r.Run(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if dim := gateway.Dimension(); dim > 0 {
		e.gateway.SetDimension(dim)
	}
	return report, nil
}

// Close waits for running ingestion tasks, then releases every resource.
// Pending tasks are failed the next time the database is opened.
func (e *Engine) Close() error {
	return e.shutdown(context.Background())
}

// CloseContext is Close with a deadline on waiting for running tasks.
func (e *Engine) CloseContext(ctx context.Context) error {
	return e.shutdown(ctx)
}

func (e *Engine) shutdown(ctx context.Context) error {
	var errs []error
	if e.orchestrator != nil {
		if err := e.orchestrator.Stop(ctx); err != nil {
			e.logger.Error("error stopping orchestrator", "err", err)
			errs = append(errs, err)
		}
	}
	if e.pipeline != nil {
		e.pipeline.Release()
	}
	if e.index != nil {
		if err := e.index.Close(); err != nil {
			e.logger.Error("error closing index manager", "err", err)
			errs = append(errs, err)
		}
	}
	if p, ok := e.provider.(*ownedProvider); ok {
		if err := p.Close(); err != nil {
			e.logger.Error("error closing AI provider", "err", err)
		}
	}
	if e.backend != nil && !e.backend.IsClosed() {
		if err := e.backend.Close(); err != nil {
			e.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ownedProvider marks a provider the engine created and must close.
type ownedProvider struct {
	ai.AIProvider
}
