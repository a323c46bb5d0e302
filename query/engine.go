package query

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/poiesic/tenantrag/ai"
	"github.com/poiesic/tenantrag/core"
	"github.com/poiesic/tenantrag/metrics"
	"github.com/poiesic/tenantrag/storage"
)

const (
	// DefaultCandidateFactor multiplies topK to size the nearest-neighbor search.
	DefaultCandidateFactor = 2

	// DefaultGenerationTimeout bounds one answer generation call.
	DefaultGenerationTimeout = 60 * time.Second

	// DefaultFreshnessWeight scales the freshness multiplier by chunk age.
	DefaultFreshnessWeight = 0.1

	// minFreshness is the floor of the freshness multiplier.
	minFreshness = 0.1
)

// QueryEmbedder embeds a question.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Index finds the nearest chunks of a tenant.
type Index interface {
	Search(ctx context.Context, tenant core.TenantID, query []float32, k int) ([]core.Hit, error)
}

// Engine answers questions from a tenant's indexed chunks.
type Engine struct {
	chunks            storage.ChunkRepository
	embedder          QueryEmbedder
	index             Index
	generator         ai.Generator
	candidateFactor   int
	freshnessWeight   float64
	generationTimeout time.Duration
	fallback          bool
	now               func() time.Time
	logger            *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithCandidateFactor sets how many candidates per requested result are
// fetched from the index before filtering. Default is 2.
func WithCandidateFactor(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			return fmt.Errorf("%w: candidate factor must be positive", core.ErrConfig)
		}
		e.candidateFactor = n
		return nil
	}
}

// WithFreshnessWeight sets how strongly chunk age scales the score.
// The multiplier is max(0.1, 1 + ageDays/365 * weight). Default is
// DefaultFreshnessWeight; 0 ranks by similarity alone and a negative weight
// favors recent chunks.
func WithFreshnessWeight(w float64) Option {
	return func(e *Engine) error {
		if err := checkFreshnessWeight(w); err != nil {
			return err
		}
		e.freshnessWeight = w
		return nil
	}
}

func checkFreshnessWeight(w float64) error {
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return fmt.Errorf("%w: freshness weight must be finite", core.ErrConfig)
	}
	return nil
}

// QueryOption adjusts a single query.
type QueryOption func(*queryParams) error

type queryParams struct {
	freshnessWeight float64
	monitor         Monitor
}

// FreshnessWeight overrides the engine's freshness weight for one query.
func FreshnessWeight(w float64) QueryOption {
	return func(q *queryParams) error {
		if err := checkFreshnessWeight(w); err != nil {
			return err
		}
		q.freshnessWeight = w
		return nil
	}
}

// Monitored reports the query's progress to monitor.
func Monitored(monitor Monitor) QueryOption {
	return func(q *queryParams) error {
		if monitor != nil {
			q.monitor = monitor
		}
		return nil
	}
}

// WithGenerationTimeout bounds each answer generation call.
func WithGenerationTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		if d <= 0 {
			return fmt.Errorf("%w: generation timeout must be positive", core.ErrConfig)
		}
		e.generationTimeout = d
		return nil
	}
}

// WithFallbackAnswer makes a failed generation return an answer quoting the
// best source instead of an error.
func WithFallbackAnswer(enabled bool) Option {
	return func(e *Engine) error {
		e.fallback = enabled
		return nil
	}
}

// WithClock sets the time source used to age chunks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		if now == nil {
			now = time.Now
		}
		e.now = now
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// NewEngine creates a new query engine.
func NewEngine(
	chunks storage.ChunkRepository,
	embedder QueryEmbedder,
	index Index,
	generator ai.Generator,
	opts ...Option,
) (*Engine, error) {
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	if generator == nil {
		return nil, ErrGeneratorRequired
	}

	e := &Engine{
		chunks:            chunks,
		embedder:          embedder,
		index:             index,
		generator:         generator,
		candidateFactor:   DefaultCandidateFactor,
		freshnessWeight:   DefaultFreshnessWeight,
		generationTimeout: DefaultGenerationTimeout,
		now:               time.Now,
		logger:            slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "query")
	return e, nil
}

// QueryWithMonitor is Query with a monitor receiving callbacks at each stage.
func (e *Engine) QueryWithMonitor(ctx context.Context, tenant core.TenantID, question string, topK int, monitor Monitor) (*core.Answer, error) {
	return e.Query(ctx, tenant, question, topK, Monitored(monitor))
}

// Query answers question from tenant's corpus using at most topK sources.
func (e *Engine) Query(ctx context.Context, tenant core.TenantID, question string, topK int, opts ...QueryOption) (answer *core.Answer, err error) {
	start := time.Now()
	defer func() {
		metrics.Queries.WithLabelValues(metrics.Outcome(err)).Inc()
		metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}()

	params := &queryParams{freshnessWeight: e.freshnessWeight, monitor: &noopMonitor{}}
	for _, opt := range opts {
		if err := opt(params); err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrQuery, err)
		}
	}
	monitor := params.monitor

	if err := core.ValidateTenant(tenant); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrQuery, err)
	}
	if topK < 1 {
		return nil, fmt.Errorf("%w: %w: top_k must be positive, got %d", core.ErrQuery, core.ErrConfig, topK)
	}
	logger := e.logger.With("tenant", tenant)
	monitor.Start(tenant, question)

	// 1. Embed the question
	vector, err := e.embedder.EmbedQuery(ctx, question)
	if err != nil {
		logger.Error("error generating embedding for question", "err", err)
		return nil, fmt.Errorf("%w: embed question: %w", core.ErrQuery, err)
	}

	// 2. Nearest neighbors, over-fetched to survive filtering
	hits, err := e.index.Search(ctx, tenant, vector, topK*e.candidateFactor)
	if err != nil {
		logger.Error("error searching index", "err", err)
		return nil, fmt.Errorf("%w: search: %w", core.ErrQuery, err)
	}
	monitor.AfterSearch(hits)

	// 3. Resolve and filter
	sources, err := e.resolve(ctx, tenant, hits, params)
	if err != nil {
		logger.Error("error retrieving chunks", "count", len(hits), "err", err)
		return nil, fmt.Errorf("%w: load chunks: %w", core.ErrQuery, err)
	}

	// 4. Rank and trim
	slices.SortFunc(sources, compareSources)
	if len(sources) > topK {
		sources = sources[:topK]
	}
	monitor.AfterRanking(sources)

	// 5. Generate
	text, err := e.generate(ctx, question, sources)
	if err != nil {
		if !e.fallback {
			logger.Error("answer generation failed", "err", err)
			return nil, fmt.Errorf("%w: generate answer: %w", core.ErrQuery, err)
		}
		logger.Warn("answer generation failed, using fallback", "err", err)
		text = fallbackAnswer(sources)
	}

	answer = &core.Answer{Text: text, Sources: sources}
	monitor.Finish(answer)
	logger.Debug("query answered", "candidates", len(hits), "sources", len(sources))
	return answer, nil
}

// resolve loads the chunks behind hits and scores the ones still eligible.
func (e *Engine) resolve(ctx context.Context, tenant core.TenantID, hits []core.Hit, params *queryParams) ([]core.Source, error) {
	monitor := params.monitor
	if len(hits) == 0 {
		return []core.Source{}, nil
	}

	ids := make([]core.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	chunks, err := e.chunks.GetChunks(ctx, tenant, ids...)
	if err != nil {
		return nil, err
	}
	byID := make(map[core.ID]*core.Chunk, len(chunks))
	for _, c := range chunks {
		if c != nil {
			byID[c.ID] = c
		}
	}

	now := e.now()
	sources := make([]core.Source, 0, len(hits))
	for _, h := range hits {
		chunk, ok := byID[h.ChunkID]
		switch {
		case !ok:
			monitor.Dropped(h, "missing")
			continue
		case chunk.TenantID != tenant:
			monitor.Dropped(h, "foreign")
			continue
		case chunk.Superseded:
			monitor.Dropped(h, "superseded")
			continue
		}

		freshness := freshness(now, chunk.UpdatedAt, params.freshnessWeight)
		sources = append(sources, core.Source{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			Version:    chunk.Version,
			Sequence:   chunk.Sequence,
			Text:       chunk.Text,
			Similarity: h.Score,
			Freshness:  freshness,
			Score:      h.Score * freshness,
		})
	}
	return sources, nil
}

// freshness returns max(0.1, 1 + days/365 * weight) for a chunk last
// updated at updated. days counts whole days.
func freshness(now, updated time.Time, weight float64) float32 {
	if weight == 0 || updated.IsZero() {
		return 1
	}
	days := math.Floor(now.Sub(updated).Hours() / 24)
	return float32(math.Max(minFreshness, 1+days/365*weight))
}

func (e *Engine) generate(ctx context.Context, question string, sources []core.Source) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.generationTimeout)
	defer cancel()
	return e.generator.Generate(ctx, buildPrompt(question, sources))
}

// compareSources orders by score descending, then newer version, then
// chunk ID.
func compareSources(a, b core.Source) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Version, a.Version); c != 0 {
		return c
	}
	return cmp.Compare(a.ChunkID, b.ChunkID)
}
