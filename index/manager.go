package index

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/poiesic/tenantrag/core"
	"github.com/poiesic/tenantrag/metrics"
	"github.com/poiesic/tenantrag/storage"
)

const (
	// DefaultCompactionRatio is the tombstone share that triggers compaction.
	DefaultCompactionRatio = 0.25

	// DefaultMaxMemory bounds the bytes of vectors kept in memory across tenants.
	DefaultMaxMemory = 1 << 30
)

// Stats describes a tenant index.
type Stats struct {
	Live       int
	Tombstones int
	Dimension  int
}

// Manager owns every tenant index and its persistence.
// It is safe for concurrent use.
type Manager struct {
	repo            storage.SnapshotRepository
	cache           *ristretto.Cache[string, *snapshot]
	locks           sync.Map // core.TenantID -> *sync.Mutex
	metric          Metric
	dimension       int
	compactionRatio float64
	maxMemory       int64
	closed          atomic.Bool
	logger          *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager) error

// WithMetric sets the similarity metric.
func WithMetric(metric Metric) Option {
	return func(m *Manager) error {
		if metric != Cosine && metric != InnerProduct {
			return fmt.Errorf("%w: unknown metric %d", core.ErrConfig, metric)
		}
		m.metric = metric
		return nil
	}
}

// WithDimension fixes the vector length of every tenant index. Without it
// each index takes the length of its first entry.
func WithDimension(n int) Option {
	return func(m *Manager) error {
		if n < 1 {
			return fmt.Errorf("%w: dimension must be positive", core.ErrConfig)
		}
		m.dimension = n
		return nil
	}
}

// WithCompactionRatio sets the tombstone share above which a mutation
// compacts the index.
func WithCompactionRatio(ratio float64) Option {
	return func(m *Manager) error {
		if ratio <= 0 || ratio > 1 {
			return fmt.Errorf("%w: compaction ratio must be in (0, 1]", core.ErrConfig)
		}
		m.compactionRatio = ratio
		return nil
	}
}

// WithMaxMemory bounds the approximate bytes of loaded indices.
func WithMaxMemory(bytes int64) Option {
	return func(m *Manager) error {
		if bytes < 1 {
			return fmt.Errorf("%w: max memory must be positive", core.ErrConfig)
		}
		m.maxMemory = bytes
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		m.logger = logger
		return nil
	}
}

// NewManager creates a manager persisting snapshots through repo.
func NewManager(repo storage.SnapshotRepository, opts ...Option) (*Manager, error) {
	m := &Manager{
		repo:            repo,
		metric:          Cosine,
		compactionRatio: DefaultCompactionRatio,
		maxMemory:       DefaultMaxMemory,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.logger = m.logger.With("component", "index-manager")

	cache, err := ristretto.NewCache(&ristretto.Config[string, *snapshot]{
		NumCounters:        1e5,
		MaxCost:            m.maxMemory,
		BufferItems:        64,
		IgnoreInternalCost: true,
		OnEvict: func(item *ristretto.Item[*snapshot]) {
			metrics.IndexEvictions.Inc()
			m.logger.Debug("evicted tenant index", "cost", item.Cost)
		},
	})
	if err != nil {
		return nil, err
	}
	m.cache = cache
	return m, nil
}

// Metric returns the similarity metric in use.
func (m *Manager) Metric() Metric {
	return m.metric
}

// Close releases the in-memory indices. Persisted snapshots are unaffected.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.cache.Close()
	return nil
}

func (m *Manager) lock(tenant core.TenantID) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(tenant, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// current returns the published snapshot, loading it on a cache miss.
func (m *Manager) current(ctx context.Context, tenant core.TenantID) (*snapshot, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if snap, ok := m.cache.Get(string(tenant)); ok {
		return snap, nil
	}

	mu := m.lock(tenant)
	mu.Lock()
	defer mu.Unlock()
	return m.currentLocked(ctx, tenant)
}

// currentLocked is current for callers holding the tenant lock. Loading
// under the lock keeps a reload from publishing state older than a
// concurrent writer's.
func (m *Manager) currentLocked(ctx context.Context, tenant core.TenantID) (*snapshot, error) {
	if snap, ok := m.cache.Get(string(tenant)); ok {
		return snap, nil
	}
	persisted, err := m.repo.LoadSnapshot(ctx, tenant)
	metrics.IndexOperations.WithLabelValues("load", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("load index for tenant %q: %w", tenant, err)
	}

	var snap *snapshot
	if persisted == nil {
		snap = emptySnapshot(tenant, m.dimension)
	} else {
		snap = fromPersisted(persisted)
		m.logger.Debug("loaded tenant index", "tenant", tenant, "entries", len(snap.entries))
	}
	m.publish(snap)
	return snap, nil
}

func (m *Manager) publish(snap *snapshot) {
	m.cache.Set(string(snap.tenant), snap, max(snap.cost(), 1))
	m.cache.Wait()
}

// mutate applies fn to a copy of the tenant index, compacts if needed,
// persists the result and publishes it. The tenant lock is held throughout.
func (m *Manager) mutate(ctx context.Context, op string, tenant core.TenantID, fn func(*snapshot) error) (err error) {
	defer func() {
		metrics.IndexOperations.WithLabelValues(op, metrics.Outcome(err)).Inc()
	}()
	if err := core.ValidateTenant(tenant); err != nil {
		return err
	}

	mu := m.lock(tenant)
	mu.Lock()
	defer mu.Unlock()

	cur, err := m.currentLocked(ctx, tenant)
	if err != nil {
		return err
	}
	next := cur.clone()
	if err := fn(next); err != nil {
		return err
	}
	if next.tombstoneRatio() > m.compactionRatio {
		m.logger.Debug("compacting tenant index", "tenant", tenant, "tombstones", next.removed, "slots", len(next.entries))
		next = next.compacted()
	}

	if err := m.save(ctx, next); err != nil {
		return err
	}
	m.publish(next)
	return nil
}

func (m *Manager) save(ctx context.Context, snap *snapshot) error {
	if err := m.repo.SaveSnapshot(ctx, snap.persisted()); err != nil {
		return fmt.Errorf("persist index for tenant %q: %w", snap.tenant, err)
	}
	return nil
}

func (m *Manager) checkDimension(snap *snapshot, entries []core.IndexEntry) error {
	for _, e := range entries {
		if len(e.Vector) == 0 {
			return fmt.Errorf("%w: empty vector for chunk %d", core.ErrDimensionMismatch, e.ChunkID)
		}
		if snap.dimension == 0 {
			snap.dimension = len(e.Vector)
		}
		if len(e.Vector) != snap.dimension {
			return fmt.Errorf("%w: chunk %d has %d, index has %d", core.ErrDimensionMismatch, e.ChunkID, len(e.Vector), snap.dimension)
		}
	}
	return nil
}

// Add inserts entries into the tenant index. An entry whose chunk ID is
// already present replaces it. The change becomes visible to searches all
// at once, after it has been persisted.
func (m *Manager) Add(ctx context.Context, tenant core.TenantID, entries []core.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return m.mutate(ctx, "add", tenant, func(snap *snapshot) error {
		if err := m.checkDimension(snap, entries); err != nil {
			return err
		}
		for _, e := range entries {
			snap.put(e)
		}
		return nil
	})
}

// Remove tombstones the given chunks and returns how many were live.
// Removed chunks never appear in later searches.
func (m *Manager) Remove(ctx context.Context, tenant core.TenantID, chunkIDs []core.ID) (int, error) {
	if len(chunkIDs) == 0 {
		return 0, nil
	}
	removed := 0
	err := m.mutate(ctx, "remove", tenant, func(snap *snapshot) error {
		for _, id := range chunkIDs {
			if snap.tombstone(id) {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Replace swaps the whole tenant index for entries.
func (m *Manager) Replace(ctx context.Context, tenant core.TenantID, entries []core.IndexEntry) error {
	return m.mutate(ctx, "replace", tenant, func(snap *snapshot) error {
		fresh := emptySnapshot(tenant, m.dimension)
		if err := m.checkDimension(fresh, entries); err != nil {
			return err
		}
		for _, e := range entries {
			fresh.put(e)
		}
		*snap = *fresh
		return nil
	})
}

// Persist writes the tenant's current index to storage. Mutations persist
// on their own; Persist is for explicit checkpoints.
func (m *Manager) Persist(ctx context.Context, tenant core.TenantID) (err error) {
	defer func() {
		metrics.IndexOperations.WithLabelValues("persist", metrics.Outcome(err)).Inc()
	}()
	if err := core.ValidateTenant(tenant); err != nil {
		return err
	}
	mu := m.lock(tenant)
	mu.Lock()
	defer mu.Unlock()

	cur, err := m.currentLocked(ctx, tenant)
	if err != nil {
		return err
	}
	return m.save(ctx, cur)
}

// Load discards the in-memory tenant index and restores it from storage.
// A tenant with no snapshot gets an empty index.
func (m *Manager) Load(ctx context.Context, tenant core.TenantID) error {
	if err := core.ValidateTenant(tenant); err != nil {
		return err
	}
	if m.closed.Load() {
		return ErrClosed
	}
	mu := m.lock(tenant)
	mu.Lock()
	defer mu.Unlock()

	m.cache.Del(string(tenant))
	m.cache.Wait()
	_, err := m.currentLocked(ctx, tenant)
	return err
}

// Search returns up to k live entries most similar to query, by descending
// score. Ties go to the more recent document version, then the lower chunk ID.
func (m *Manager) Search(ctx context.Context, tenant core.TenantID, query []float32, k int) (hits []core.Hit, err error) {
	start := time.Now()
	defer func() {
		metrics.SearchDuration.Observe(time.Since(start).Seconds())
		metrics.IndexOperations.WithLabelValues("search", metrics.Outcome(err)).Inc()
	}()
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []core.Hit{}, nil
	}

	snap, err := m.current(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if len(snap.slots) == 0 {
		return []core.Hit{}, nil
	}
	if len(query) != snap.dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", core.ErrDimensionMismatch, len(query), snap.dimension)
	}

	var qnorm float32
	if m.metric == Cosine {
		qnorm = norm(query)
	}

	hits = make([]core.Hit, 0, len(snap.slots))
	for i, e := range snap.entries {
		if !snap.live[i] {
			continue
		}
		score := dot(query, e.Vector)
		if m.metric == Cosine {
			if denom := qnorm * snap.norms[i]; denom > 0 {
				score /= denom
			} else {
				score = 0
			}
		}
		hits = append(hits, core.Hit{
			ChunkID:    e.ChunkID,
			DocumentID: e.DocumentID,
			Version:    e.Version,
			Score:      score,
		})
	}

	slices.SortFunc(hits, compareHits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// compareHits orders by descending score, then descending version, then
// ascending chunk ID.
func compareHits(a, b core.Hit) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Version, a.Version); c != 0 {
		return c
	}
	return cmp.Compare(a.ChunkID, b.ChunkID)
}

// Stats reports the size of a tenant index.
func (m *Manager) Stats(ctx context.Context, tenant core.TenantID) (Stats, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return Stats{}, err
	}
	snap, err := m.current(ctx, tenant)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Live:       len(snap.slots),
		Tombstones: snap.removed,
		Dimension:  snap.dimension,
	}, nil
}
