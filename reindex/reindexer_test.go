package reindex

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/tenantrag/ai/mock"
	"github.com/poiesic/tenantrag/core"
	"github.com/poiesic/tenantrag/embedding"
	"github.com/poiesic/tenantrag/index"
	"github.com/poiesic/tenantrag/retry"
	"github.com/poiesic/tenantrag/storage"
	"github.com/poiesic/tenantrag/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	oldDim = 8
	newDim = 12
)

type testEnv struct {
	repos    *storage.Repositories
	index    *index.Manager
	embedder *mock.MockEmbedder
	gateway  *embedding.Gateway
}

// setupTest seeds tenant "acme" with three live chunks and one superseded
// chunk, all embedded at oldDim.
func setupTest(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	repos, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	idx, err := index.NewManager(repos.Snapshots)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	seed := []struct {
		version    int
		seq        int
		text       string
		superseded bool
	}{
		{1, 0, "old intro", true},
		{2, 0, "intro", false},
		{2, 1, "body", false},
		{2, 2, "bad", false},
	}
	var entries []core.IndexEntry
	for _, s := range seed {
		chunk := &core.Chunk{
			ID:         core.ChunkID("acme", "doc", s.version, s.seq),
			TenantID:   "acme",
			DocumentID: "doc",
			Version:    s.version,
			Sequence:   s.seq,
			Text:       s.text,
			Vector:     mock.Vector(s.text, oldDim),
			Superseded: s.superseded,
		}
		require.NoError(t, repos.Chunks.PutChunks(ctx, chunk))
		if !s.superseded {
			entries = append(entries, core.IndexEntry{ChunkID: chunk.ID, DocumentID: "doc", Version: s.version, Vector: chunk.Vector})
		}
	}
	require.NoError(t, idx.Add(ctx, "acme", entries))

	embedder := mock.NewMockEmbedder()
	embedder.Dimension = newDim
	gateway, err := embedding.NewGateway(embedder)
	require.NoError(t, err)

	return &testEnv{repos: repos, index: idx, embedder: embedder, gateway: gateway}
}

func testConfig() *Config {
	return &Config{
		BatchSize: 2,
		Retry:     retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}
}

type recordingProgress struct {
	mu       sync.Mutex
	total    int
	updates  []int
	finished bool
}

func (p *recordingProgress) Start(total int) { p.total = total }
func (p *recordingProgress) Update(current int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, current)
}
func (p *recordingProgress) Finish() { p.finished = true }

func TestRun_RebuildsWithNewModel(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	progress := &recordingProgress{}

	r := NewReindexer(env.repos.Chunks, env.gateway, env.index, testConfig(), progress)
	report, err := r.Run(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, 3, report.Indexed)
	assert.Zero(t, report.Rejected)

	stats, err := env.index.Stats(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Live)
	assert.Equal(t, newDim, stats.Dimension)

	chunks, err := env.repos.Chunks.ChunksByDocument(ctx, "acme", "doc")
	require.NoError(t, err)
	for _, c := range chunks {
		if c.Superseded {
			assert.Len(t, c.Vector, oldDim, "superseded chunks are left alone")
		} else {
			assert.Len(t, c.Vector, newDim)
		}
	}

	hits, err := env.index.Search(ctx, "acme", mock.Vector("body", newDim), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, core.ChunkID("acme", "doc", 2, 1), hits[0].ChunkID)

	assert.Equal(t, 3, progress.total)
	assert.Equal(t, []int{2, 3}, progress.updates)
	assert.True(t, progress.finished)
}

func TestRun_RetriesTransientFailure(t *testing.T) {
	env := setupTest(t)
	calls := 0
	env.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls == 1 {
			return nil, context.DeadlineExceeded
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.Vector(text, newDim)
		}
		return out, nil
	}

	r := NewReindexer(env.repos.Chunks, env.gateway, env.index, testConfig(), nil)
	report, err := r.Run(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Indexed)
}

func TestRun_PersistentFailureKeepsOldIndex(t *testing.T) {
	env := setupTest(t)
	env.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, context.DeadlineExceeded
	}

	r := NewReindexer(env.repos.Chunks, env.gateway, env.index, testConfig(), nil)
	_, err := r.Run(context.Background(), "acme")
	require.Error(t, err)
	assert.True(t, core.IsTransient(err))
	assert.Equal(t, 3, env.embedder.CallCount())

	stats, err := env.index.Stats(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Live)
	assert.Equal(t, oldDim, stats.Dimension)
}

func TestRun_RejectedChunks(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	env.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			if text == "bad" {
				return nil, errors.New("input rejected")
			}
			out[i] = mock.Vector(text, newDim)
		}
		return out, nil
	}

	r := NewReindexer(env.repos.Chunks, env.gateway, env.index, testConfig(), nil)
	report, err := r.Run(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 1, report.Rejected)

	chunks, err := env.repos.Chunks.GetChunks(ctx, "acme", core.ChunkID("acme", "doc", 2, 2))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Vector)
	assert.Contains(t, chunks[0].EmbedError, "input rejected")

	stats, err := env.index.Stats(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Live)
}

func TestRun_EmptyTenant(t *testing.T) {
	env := setupTest(t)

	r := NewReindexer(env.repos.Chunks, env.gateway, env.index, nil, nil)
	report, err := r.Run(context.Background(), "globex")
	require.NoError(t, err)
	assert.Zero(t, report.Chunks)
	assert.Zero(t, report.Indexed)
	assert.Zero(t, env.embedder.CallCount())

	_, err = r.Run(context.Background(), "")
	assert.ErrorIs(t, err, core.ErrInvalidTenant)
}

func TestProgressTracker(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 5)

	tracker.Update(3)
	assert.Empty(t, buf.String(), "updates before Start are ignored")

	tracker.Start(10)
	tracker.Update(3)
	assert.Empty(t, buf.String())

	tracker.Update(5)
	assert.Contains(t, buf.String(), "Progress: 5/10 (50.0%)")

	tracker.Update(50)
	assert.Contains(t, buf.String(), "Progress: 10/10 (100.0%)")

	tracker.Finish()
	assert.Greater(t, tracker.Elapsed(), time.Duration(0))
}
