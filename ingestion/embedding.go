package ingestion

import (
	"context"
	"fmt"
	"sync"

	"github.com/poiesic/tenantrag/core"
	"github.com/poiesic/tenantrag/embedding"
)

// embedChunks embeds chunk texts in batches on the embedding pool and fills
// each chunk's Vector or EmbedError. Only a transient batch failure is
// returned; it aborts the whole run.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []*core.Chunk) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for start := 0; start < len(chunks); start += p.batchSize {
		batch := chunks[start:min(start+p.batchSize, len(chunks))]

		wg.Add(1)
		err := p.embedPool.Submit(func() {
			defer wg.Done()
			if err := p.embedBatch(ctx, batch); err != nil {
				fail(err)
			}
		})
		if err != nil {
			wg.Done()
			fail(core.Transient(fmt.Errorf("submit embedding batch: %w", err)))
			break
		}
	}
	wg.Wait()
	return firstErr
}

func (p *Pipeline) embedBatch(ctx context.Context, batch []*core.Chunk) error {
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.Text
	}

	p.logger.Debug("embedding batch", "size", len(batch), "first_sequence", batch[0].Sequence)
	results, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(results) != len(batch) {
		return core.Fatal(fmt.Errorf("%w: got %d for %d", embedding.ErrBatchSize, len(results), len(batch)))
	}

	for i, res := range results {
		chunk := batch[i]
		if res.Err != nil {
			chunk.Vector = nil
			chunk.EmbedError = res.Err.Error()
			p.logger.Warn("chunk rejected by embedding service",
				"tenant", chunk.TenantID,
				"document", chunk.DocumentID,
				"sequence", chunk.Sequence,
				"err", res.Err)
			continue
		}
		chunk.Vector = res.Vector
		chunk.EmbedError = ""
	}
	return nil
}
