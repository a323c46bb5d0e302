package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/poiesic/tenantrag/ai"
	"github.com/poiesic/tenantrag/core"
	"github.com/poiesic/tenantrag/metrics"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single remote call.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBatch is the largest number of texts sent in one remote call.
	DefaultMaxBatch = 64
)

// Result is the outcome for one input text. Exactly one of Vector and Err is set.
type Result struct {
	Vector []float32
	Err    error
}

// Gateway embeds text through an ai.Embedder.
// It is safe for concurrent use.
type Gateway struct {
	embedder  ai.Embedder
	limiter   *rate.Limiter
	timeout   time.Duration
	maxBatch  int
	dimension atomic.Int64
	logger    *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway) error

// WithTimeout sets the deadline applied to each remote call.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) error {
		if d <= 0 {
			return fmt.Errorf("%w: timeout must be positive", core.ErrConfig)
		}
		g.timeout = d
		return nil
	}
}

// WithRateLimit caps remote calls at rps per second with the given burst.
// The gateway is unlimited by default.
func WithRateLimit(rps float64, burst int) Option {
	return func(g *Gateway) error {
		if rps <= 0 || burst < 1 {
			return fmt.Errorf("%w: rate limit needs rps > 0 and burst >= 1", core.ErrConfig)
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// WithMaxBatch sets the largest number of texts sent in one remote call.
func WithMaxBatch(n int) Option {
	return func(g *Gateway) error {
		if n < 1 {
			return fmt.Errorf("%w: max batch must be positive", core.ErrConfig)
		}
		g.maxBatch = n
		return nil
	}
}

// WithDimension fixes the expected vector length. Without it the first
// vector received sets the dimension.
func WithDimension(n int) Option {
	return func(g *Gateway) error {
		if n < 1 {
			return fmt.Errorf("%w: dimension must be positive", core.ErrConfig)
		}
		g.dimension.Store(int64(n))
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// NewGateway creates a gateway over embedder.
func NewGateway(embedder ai.Embedder, opts ...Option) (*Gateway, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", core.ErrConfig)
	}
	g := &Gateway{
		embedder: embedder,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		timeout:  DefaultTimeout,
		maxBatch: DefaultMaxBatch,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	g.logger = g.logger.With("component", "embedding-gateway")
	return g, nil
}

// SetDimension replaces the accepted vector length. Used once the indexes
// have been rebuilt for a model with a different dimension.
func (g *Gateway) SetDimension(n int) {
	if old := g.dimension.Swap(int64(n)); old != int64(n) {
		g.logger.Info("embedding dimension changed", "from", old, "to", n)
	}
}

// Dimension returns the vector length the gateway accepts, or 0 before the
// first vector has been seen.
func (g *Gateway) Dimension() int {
	return int(g.dimension.Load())
}

// Embed returns one Result per input text, in input order.
//
// Empty or whitespace-only texts get a fatal per-item error without a
// remote call. Texts the service refuses get fatal per-item errors. A
// transient failure (timeout, network error, rate limiter wait aborted)
// fails the whole call with an error wrapping core.ErrTransient, and no
// results are returned.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([]Result, error) {
	results := make([]Result, len(texts))

	pending := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i].Err = core.Fatal(core.ErrEmptyContent)
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += g.maxBatch {
		batch := pending[start:min(start+g.maxBatch, len(pending))]
		if err := g.embedBatch(ctx, texts, batch, results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// embedBatch embeds texts[idx] for each idx in batch into results.
// Only transient errors are returned.
func (g *Gateway) embedBatch(ctx context.Context, texts []string, batch []int, results []Result) error {
	input := make([]string, len(batch))
	for i, idx := range batch {
		input[i] = texts[idx]
	}

	vectors, err := g.call(ctx, input)
	if err == nil {
		for i, idx := range batch {
			results[idx] = g.accept(vectors[i])
		}
		return nil
	}
	if core.IsTransient(err) {
		return err
	}
	if len(batch) == 1 {
		results[batch[0]].Err = err
		return nil
	}

	// The service refused the batch. Retry one text at a time so only the
	// offending inputs are rejected.
	g.logger.Warn("batch rejected, isolating inputs", "size", len(batch), "err", err)
	for _, idx := range batch {
		vectors, err := g.call(ctx, []string{texts[idx]})
		switch {
		case err == nil:
			results[idx] = g.accept(vectors[0])
		case core.IsTransient(err):
			return err
		default:
			results[idx].Err = err
		}
	}
	return nil
}

// call performs one rate limited, time bounded remote call and classifies
// its failure.
func (g *Gateway) call(ctx context.Context, texts []string) ([][]float32, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, core.Transient(fmt.Errorf("rate limiter: %w", err))
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	vectors, err := g.embedder.EmbedTexts(cctx, texts)
	metrics.EmbedDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil && ctx.Err() != nil:
		// The caller gave up; nothing is wrong with the input.
		err = core.Transient(ctx.Err())
	case err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded):
		err = core.Transient(fmt.Errorf("embedding call exceeded %s: %w", g.timeout, err))
	case err != nil:
		err = core.Classify(err)
	case len(vectors) != len(texts):
		err = core.Fatal(fmt.Errorf("%w: got %d for %d", ErrBatchSize, len(vectors), len(texts)))
	}

	if err != nil {
		if core.IsTransient(err) {
			metrics.EmbedCalls.WithLabelValues("transient").Inc()
		} else {
			metrics.EmbedCalls.WithLabelValues("fatal").Inc()
		}
		g.logger.Debug("embedding call failed", "count", len(texts), "err", err)
		return nil, err
	}
	metrics.EmbedCalls.WithLabelValues("success").Inc()
	return vectors, nil
}

// accept checks a vector against the gateway dimension, fixing the
// dimension on first use.
func (g *Gateway) accept(vector []float32) Result {
	if len(vector) == 0 {
		return Result{Err: core.Fatal(errors.New("embedding service returned an empty vector"))}
	}
	dim := int64(len(vector))
	if g.dimension.CompareAndSwap(0, dim) {
		g.logger.Info("embedding dimension fixed", "dimension", dim)
	}
	if want := g.dimension.Load(); want != dim {
		return Result{Err: core.Fatal(fmt.Errorf("%w: got %d, want %d", core.ErrDimensionMismatch, dim, want))}
	}
	return Result{Vector: vector}
}

// EmbedQuery embeds a single query text.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, core.Fatal(core.ErrEmptyContent)
	}
	vectors, err := g.call(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	res := g.accept(vectors[0])
	return res.Vector, res.Err
}
