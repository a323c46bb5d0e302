package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/tenantrag/chunker"
	"github.com/poiesic/tenantrag/core"
	"github.com/poiesic/tenantrag/embedding"
	"github.com/poiesic/tenantrag/metrics"
	"github.com/poiesic/tenantrag/storage"
)

// DefaultBatchSize is the number of chunks sent in one embedding call.
const DefaultBatchSize = 32

// Embedder embeds batches of text, one result per input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([]embedding.Result, error)
}

// Index is the subset of the vector index manager the pipeline mutates.
type Index interface {
	Add(ctx context.Context, tenant core.TenantID, entries []core.IndexEntry) error
	Remove(ctx context.Context, tenant core.TenantID, chunkIDs []core.ID) (int, error)
}

// Request identifies one document version to ingest.
// A zero Version registers Text as a new version first.
type Request struct {
	TenantID   core.TenantID
	DocumentID string
	Version    int
	Text       string
}

// Pipeline ingests document versions into a tenant's index.
type Pipeline struct {
	documents  storage.DocumentRepository
	chunks     storage.ChunkRepository
	embedder   Embedder
	index      Index
	chunker    *chunker.Chunker
	embedPool  *ants.Pool
	batchSize  int
	registerMu sync.Mutex
	docLocks   sync.Map // documentKey -> *sync.Mutex
	logger     *slog.Logger
}

type documentKey struct {
	tenant core.TenantID
	id     string
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithEmbedConcurrency sets how many embedding batches run concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithEmbedConcurrency(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.embedPool != nil {
			p.embedPool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.embedPool = pool
		return nil
	}
}

// WithBatchSize sets the number of chunks per embedding call.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("%w: batch size must be positive", core.ErrConfig)
		}
		p.batchSize = size
		return nil
	}
}

// WithChunker sets the chunker. Default is chunker.New() with default settings.
func WithChunker(c *chunker.Chunker) Option {
	return func(p *Pipeline) error {
		if c == nil {
			return fmt.Errorf("%w: chunker is nil", core.ErrConfig)
		}
		p.chunker = c
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	documents storage.DocumentRepository,
	chunks storage.ChunkRepository,
	embedder Embedder,
	index Index,
	opts ...Option,
) (*Pipeline, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}

	defaultChunker, err := chunker.New()
	if err != nil {
		return nil, err
	}

	poolSize := max(runtime.NumCPU()/2, 1)
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		documents: documents,
		chunks:    chunks,
		embedder:  embedder,
		index:     index,
		chunker:   defaultChunker,
		embedPool: pool,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "ingestion")
	return p, nil
}

// Release releases the embedding worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.embedPool != nil {
		p.embedPool.Release()
	}
}

// Register records text as a version of a document and returns it with
// status UPLOADED. Text identical to the latest version's reuses that
// version; anything else becomes the next version.
func (p *Pipeline) Register(ctx context.Context, tenant core.TenantID, documentID, name, text string, source core.SourceType) (*core.Document, error) {
	if err := core.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	if documentID == "" {
		return nil, fmt.Errorf("%w: id is empty", core.ErrInvalidDocument)
	}

	p.registerMu.Lock()
	defer p.registerMu.Unlock()

	hash := core.ContentHash(text)
	latest, err := p.documents.LatestDocument(ctx, tenant, documentID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		latest = nil
	case err != nil:
		return nil, err
	case latest.ContentHash == hash:
		p.logger.Debug("content unchanged, reusing version",
			"tenant", tenant, "document", documentID, "version", latest.Version)
		return latest, nil
	}

	doc := &core.Document{
		TenantID:    tenant,
		ID:          documentID,
		Version:     1,
		ContentHash: hash,
		Status:      core.DocumentUploaded,
		Source:      source,
		Name:        name,
	}
	if latest != nil {
		doc.Version = latest.Version + 1
	}
	if doc.Source == "" {
		doc.Source = core.SourceAPI
	}
	if err := p.documents.PutDocument(ctx, doc); err != nil {
		return nil, err
	}
	p.logger.Info("registered document version", "tenant", tenant, "document", documentID, "version", doc.Version)
	return doc, nil
}

// Ingest chunks, embeds and indexes one document version.
//
// Errors wrapping core.ErrTransient leave the document CHUNKED and may be
// retried. Any other error is final; if no chunk could be indexed the
// document is marked FAILED and the error wraps core.ErrFatal.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (result *core.IngestResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("ingestion panicked", "tenant", req.TenantID, "document", req.DocumentID, "panic", r)
			result, err = nil, core.Fatal(fmt.Errorf("ingestion panicked: %v", r))
		}
	}()

	doc, err := p.document(ctx, req)
	if err != nil {
		return nil, err
	}
	logger := p.logger.With("tenant", doc.TenantID, "document", doc.ID, "version", doc.Version)

	chunks := p.split(doc, req.Text)
	if len(chunks) == 0 {
		return nil, p.fail(ctx, doc, 0, core.Fatal(core.ErrEmptyContent))
	}
	if err := p.dropStaleChunks(ctx, doc, len(chunks)); err != nil {
		return nil, err
	}

	doc.Status = core.DocumentChunked
	doc.ChunkCount = len(chunks)
	if err := p.documents.PutDocument(ctx, doc); err != nil {
		return nil, err
	}
	logger.Debug("document chunked", "chunks", len(chunks))

	if err := p.embedChunks(ctx, chunks); err != nil {
		logger.Warn("embedding aborted", "err", err)
		return nil, err
	}

	// Versions of one document commit one at a time, so the newest indexed
	// version is decided before any other version touches the index.
	mu := p.documentLock(doc)
	mu.Lock()
	defer mu.Unlock()

	newer, err := p.hasNewerIndexedVersion(ctx, doc)
	if err != nil {
		return nil, err
	}

	var entries []core.IndexEntry
	var rejected []core.ID
	for _, chunk := range chunks {
		chunk.Superseded = newer
		if len(chunk.Vector) == 0 {
			rejected = append(rejected, chunk.ID)
			continue
		}
		entries = append(entries, core.IndexEntry{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			Version:    chunk.Version,
			Vector:     chunk.Vector,
		})
	}

	if err := p.chunks.PutChunks(ctx, chunks...); err != nil {
		return nil, err
	}

	result = &core.IngestResult{
		DocumentID: doc.ID,
		Version:    doc.Version,
		Chunks:     len(chunks),
		Skipped:    len(rejected),
	}
	if len(entries) == 0 {
		return nil, p.fail(ctx, doc, len(rejected), core.Fatal(ErrNothingIndexed))
	}

	if newer {
		// A later version already owns the index; keep this one as history.
		logger.Info("newer version already indexed, storing chunks as superseded")
		if _, err := p.index.Remove(ctx, doc.TenantID, chunkIDs(chunks)); err != nil {
			return nil, err
		}
		result.Superseded = len(chunks)
	} else {
		if err := p.index.Add(ctx, doc.TenantID, entries); err != nil {
			return nil, err
		}
		if len(rejected) > 0 {
			if _, err := p.index.Remove(ctx, doc.TenantID, rejected); err != nil {
				return nil, err
			}
		}
		result.Indexed = len(entries)

		superseded, err := p.supersedeOlderVersions(ctx, doc)
		if err != nil {
			return nil, err
		}
		result.Superseded = superseded
	}

	doc.Status = core.DocumentIndexed
	doc.FailedChunks = len(rejected)
	if err := p.documents.PutDocument(ctx, doc); err != nil {
		return nil, err
	}

	metrics.ChunksIngested.WithLabelValues("indexed").Add(float64(result.Indexed))
	metrics.ChunksIngested.WithLabelValues("skipped").Add(float64(result.Skipped))
	metrics.ChunksIngested.WithLabelValues("superseded").Add(float64(result.Superseded))
	logger.Info("document indexed",
		"chunks", result.Chunks,
		"indexed", result.Indexed,
		"skipped", result.Skipped,
		"superseded", result.Superseded)
	return result, nil
}

// Abandon marks a document version FAILED after its task gave up.
// A request with a zero Version abandons the version registered for its Text.
func (p *Pipeline) Abandon(ctx context.Context, req Request, cause error) error {
	var doc *core.Document
	var err error
	if req.Version == 0 {
		doc, err = p.registeredVersion(ctx, req)
	} else {
		doc, err = p.documents.GetDocument(ctx, req.TenantID, req.DocumentID, req.Version)
	}
	if err != nil {
		return err
	}
	if doc.Status == core.DocumentIndexed {
		return nil
	}
	p.logger.Warn("abandoning document version",
		"tenant", doc.TenantID, "document", doc.ID, "version", doc.Version, "err", cause)
	doc.Status = core.DocumentFailed
	return p.documents.PutDocument(ctx, doc)
}

// document resolves the version a request refers to.
func (p *Pipeline) document(ctx context.Context, req Request) (*core.Document, error) {
	if req.Version == 0 {
		return p.Register(ctx, req.TenantID, req.DocumentID, req.DocumentID, req.Text, core.SourceAPI)
	}
	if err := core.ValidateTenant(req.TenantID); err != nil {
		return nil, core.Fatal(err)
	}
	doc, err := p.documents.GetDocument(ctx, req.TenantID, req.DocumentID, req.Version)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, core.Fatal(fmt.Errorf("document %q version %d: %w", req.DocumentID, req.Version, err))
	}
	return doc, err
}

// registeredVersion finds the newest version of the request's document whose
// content matches its Text.
func (p *Pipeline) registeredVersion(ctx context.Context, req Request) (*core.Document, error) {
	docs, err := p.documents.ListDocuments(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	hash := core.ContentHash(req.Text)
	var found *core.Document
	for _, doc := range docs {
		if doc.ID == req.DocumentID && doc.ContentHash == hash && (found == nil || doc.Version > found.Version) {
			found = doc
		}
	}
	if found == nil {
		return nil, fmt.Errorf("document %q with matching content: %w", req.DocumentID, storage.ErrNotFound)
	}
	return found, nil
}

func (p *Pipeline) documentLock(doc *core.Document) *sync.Mutex {
	mu, _ := p.docLocks.LoadOrStore(documentKey{tenant: doc.TenantID, id: doc.ID}, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (p *Pipeline) split(doc *core.Document, text string) []*core.Chunk {
	var chunks []*core.Chunk
	for span := range p.chunker.Split(text) {
		chunks = append(chunks, &core.Chunk{
			ID:         core.ChunkID(doc.TenantID, doc.ID, doc.Version, span.Sequence),
			TenantID:   doc.TenantID,
			DocumentID: doc.ID,
			Version:    doc.Version,
			Sequence:   span.Sequence,
			Start:      span.Start,
			End:        span.End,
			Text:       span.Text,
		})
	}
	return chunks
}

// dropStaleChunks deletes chunks of this version left by an earlier run
// that produced more chunks, for example under a different chunk size.
func (p *Pipeline) dropStaleChunks(ctx context.Context, doc *core.Document, count int) error {
	existing, err := p.chunks.ChunksByDocument(ctx, doc.TenantID, doc.ID)
	if err != nil {
		return err
	}
	var stale []core.ID
	for _, chunk := range existing {
		if chunk.Version == doc.Version && chunk.Sequence >= count {
			stale = append(stale, chunk.ID)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if _, err := p.index.Remove(ctx, doc.TenantID, stale); err != nil {
		return err
	}
	return p.chunks.DeleteChunks(ctx, doc.TenantID, stale...)
}

func (p *Pipeline) hasNewerIndexedVersion(ctx context.Context, doc *core.Document) (bool, error) {
	docs, err := p.documents.ListDocuments(ctx, doc.TenantID)
	if err != nil {
		return false, err
	}
	for _, other := range docs {
		if other.ID == doc.ID && other.Version > doc.Version && other.Status == core.DocumentIndexed {
			return true, nil
		}
	}
	return false, nil
}

// supersedeOlderVersions marks the chunks of earlier versions superseded,
// then removes them from the index. The new version is already searchable,
// so the document never disappears from results.
func (p *Pipeline) supersedeOlderVersions(ctx context.Context, doc *core.Document) (int, error) {
	existing, err := p.chunks.ChunksByDocument(ctx, doc.TenantID, doc.ID)
	if err != nil {
		return 0, err
	}

	var older []core.ID
	var changed []*core.Chunk
	for _, chunk := range existing {
		if chunk.Version >= doc.Version {
			continue
		}
		older = append(older, chunk.ID)
		if !chunk.Superseded {
			chunk.Superseded = true
			changed = append(changed, chunk)
		}
	}
	if len(older) == 0 {
		return 0, nil
	}

	if len(changed) > 0 {
		if err := p.chunks.PutChunks(ctx, changed...); err != nil {
			return 0, err
		}
	}
	// Removing every older chunk, not just newly marked ones, finishes the
	// job if an earlier run stopped between the two steps.
	removed, err := p.index.Remove(ctx, doc.TenantID, older)
	if err != nil {
		return 0, err
	}
	p.logger.Debug("superseded older versions",
		"tenant", doc.TenantID, "document", doc.ID, "marked", len(changed), "removed", removed)
	return len(changed), nil
}

// fail records the document as FAILED and returns cause.
func (p *Pipeline) fail(ctx context.Context, doc *core.Document, rejected int, cause error) error {
	doc.Status = core.DocumentFailed
	doc.FailedChunks = rejected
	if err := p.documents.PutDocument(ctx, doc); err != nil {
		return errors.Join(cause, err)
	}
	p.logger.Warn("document failed", "tenant", doc.TenantID, "document", doc.ID, "version", doc.Version, "err", cause)
	return cause
}

func chunkIDs(chunks []*core.Chunk) []core.ID {
	ids := make([]core.ID, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
	}
	return ids
}
