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

package reindex

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/tenantrag/core"
	"github.com/poiesic/tenantrag/embedding"
	"github.com/poiesic/tenantrag/retry"
	"github.com/poiesic/tenantrag/storage"
)

// DefaultBatchSize is the default number of chunks embedded per call.
const DefaultBatchSize = 100

// Embedder embeds batches of text, one result per input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([]embedding.Result, error)
}

// Index is the part of the vector index manager a rebuild needs.
type Index interface {
	Replace(ctx context.Context, tenant core.TenantID, entries []core.IndexEntry) error
}

// Config holds configuration for the reindex operation.
type Config struct {
	// BatchSize is the number of chunks to embed in each call
	BatchSize int

	// Retry governs retries of transient embedding failures
	Retry retry.Policy
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize: DefaultBatchSize,
		Retry:     retry.DefaultPolicy(),
	}
}

// Report summarizes a completed rebuild.
type Report struct {
	Chunks   int // Active chunks found
	Indexed  int // Chunks embedded and placed in the new index
	Rejected int // Chunks the embedding service refused
	Elapsed  time.Duration
}

// Reindexer rebuilds a tenant index from stored chunk text, typically after
// the embedding model changed.
type Reindexer struct {
	chunks   storage.ChunkRepository
	embedder Embedder
	index    Index
	config   *Config
	progress Progress
	logger   *slog.Logger
}

// NewReindexer creates a new reindexer.
// progress receives updates as batches complete; nil discards them.
func NewReindexer(chunks storage.ChunkRepository, embedder Embedder, index Index, config *Config, progress Progress) *Reindexer {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if progress == nil {
		progress = noopProgress{}
	}

	return &Reindexer{
		chunks:   chunks,
		embedder: embedder,
		index:    index,
		config:   config,
		progress: progress,
		logger:   slog.Default().With("component", "reindex"),
	}
}

// Run re-embeds every chunk of tenant that is not superseded, stores the new
// vectors and swaps the tenant index for one built from them. Searches keep
// using the old index until the swap. Superseded chunks are left as they are.
func (r *Reindexer) Run(ctx context.Context, tenant core.TenantID) (*Report, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	start := time.Now()

	var active []*core.Chunk
	err := r.chunks.ForEachChunk(ctx, tenant, func(chunk *core.Chunk) error {
		if !chunk.Superseded {
			active = append(active, chunk)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}

	report := &Report{Chunks: len(active)}
	r.logger.Info("starting reindex", "tenant", tenant, "chunks", len(active), "batch_size", r.config.BatchSize)
	r.progress.Start(len(active))

	entries := make([]core.IndexEntry, 0, len(active))
	for i := 0; i < len(active); i += r.config.BatchSize {
		batch := active[i:min(i+r.config.BatchSize, len(active))]
		if err := r.embedBatch(ctx, batch); err != nil {
			return nil, err
		}
		if err := r.chunks.PutChunks(ctx, batch...); err != nil {
			return nil, fmt.Errorf("failed to update chunks: %w", err)
		}

		for _, chunk := range batch {
			if len(chunk.Vector) == 0 {
				report.Rejected++
				continue
			}
			entries = append(entries, core.IndexEntry{
				ChunkID:    chunk.ID,
				DocumentID: chunk.DocumentID,
				Version:    chunk.Version,
				Vector:     chunk.Vector,
			})
		}
		r.progress.Update(i + len(batch))
	}

	if err := r.index.Replace(ctx, tenant, entries); err != nil {
		return nil, fmt.Errorf("failed to replace index: %w", err)
	}
	r.progress.Finish()

	report.Indexed = len(entries)
	report.Elapsed = time.Since(start)
	r.logger.Info("reindex complete",
		"tenant", tenant,
		"indexed", report.Indexed,
		"rejected", report.Rejected,
		"elapsed", report.Elapsed.Round(time.Millisecond))
	return report, nil
}

// embedBatch embeds a batch with retry and fills each chunk's Vector or
// EmbedError.
func (r *Reindexer) embedBatch(ctx context.Context, batch []*core.Chunk) error {
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.Text
	}

	var results []embedding.Result
	err := retry.Do(ctx, r.config.Retry, func(ctx context.Context) error {
		var err error
		results, err = r.embedder.Embed(ctx, texts)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to generate embeddings after %d attempts: %w", r.config.Retry.MaxAttempts, err)
	}
	if len(results) != len(batch) {
		return fmt.Errorf("%w: expected %d, got %d", embedding.ErrBatchSize, len(batch), len(results))
	}

	for i, res := range results {
		if res.Err != nil {
			batch[i].Vector = nil
			batch[i].EmbedError = res.Err.Error()
			continue
		}
		batch[i].Vector = res.Vector
		batch[i].EmbedError = ""
	}
	return nil
}
