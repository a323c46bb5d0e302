package storage

import (
	"context"

	"github.com/poiesic/tenantrag/core"
)

// DocumentRepository stores document versions.
// Implementations must be thread-safe and support concurrent access.
type DocumentRepository interface {
	// PutDocument creates or replaces a document version.
	// Sets InsertedAt on first write and UpdatedAt on every write.
	PutDocument(ctx context.Context, doc *core.Document) error

	// GetDocument retrieves one version of a document.
	// Returns ErrNotFound if the version doesn't exist.
	GetDocument(ctx context.Context, tenant core.TenantID, documentID string, version int) (*core.Document, error)

	// LatestDocument retrieves the highest version of a document.
	// Returns ErrNotFound if no version exists.
	LatestDocument(ctx context.Context, tenant core.TenantID, documentID string) (*core.Document, error)

	// ListDocuments returns every version of every document of a tenant,
	// ordered by document ID then version.
	ListDocuments(ctx context.Context, tenant core.TenantID) ([]*core.Document, error)
}

// ChunkRepository stores chunk metadata, text and vectors.
type ChunkRepository interface {
	// PutChunks creates or replaces chunks by ID.
	PutChunks(ctx context.Context, chunks ...*core.Chunk) error

	// GetChunks retrieves chunks by ID within a tenant.
	// Returns only the chunks that exist (no error for missing chunks).
	GetChunks(ctx context.Context, tenant core.TenantID, ids ...core.ID) ([]*core.Chunk, error)

	// ChunksByDocument returns all chunks of all versions of a document,
	// ordered by version then sequence.
	ChunksByDocument(ctx context.Context, tenant core.TenantID, documentID string) ([]*core.Chunk, error)

	// DeleteChunks removes chunks by ID. Missing chunks are ignored.
	DeleteChunks(ctx context.Context, tenant core.TenantID, ids ...core.ID) error

	// ForEachChunk calls fn for every chunk of a tenant in key order.
	// Iteration stops at the first error returned by fn.
	ForEachChunk(ctx context.Context, tenant core.TenantID, fn func(*core.Chunk) error) error
}

// TaskRepository stores ingestion task records.
type TaskRepository interface {
	// SaveTask creates or replaces a task and its idempotency key mapping.
	SaveTask(ctx context.Context, task *core.Task) error

	// GetTask retrieves a task by ID.
	// Returns ErrNotFound if the task doesn't exist.
	GetTask(ctx context.Context, id string) (*core.Task, error)

	// TaskByKey retrieves the most recent task saved under an idempotency key.
	// Keys are scoped to the tenant; other tenants' tasks are never returned.
	// Returns ErrNotFound if no task uses the key.
	TaskByKey(ctx context.Context, tenant core.TenantID, key string) (*core.Task, error)

	// ListTasks returns every stored task.
	ListTasks(ctx context.Context) ([]*core.Task, error)
}

// SnapshotRepository stores persisted tenant indices.
type SnapshotRepository interface {
	// SaveSnapshot replaces the snapshot of snap.TenantID.
	SaveSnapshot(ctx context.Context, snap *core.IndexSnapshot) error

	// LoadSnapshot retrieves a tenant's snapshot.
	// Returns nil, nil if the tenant has never been persisted.
	LoadSnapshot(ctx context.Context, tenant core.TenantID) (*core.IndexSnapshot, error)

	// DeleteSnapshot removes a tenant's snapshot. Missing snapshots are ignored.
	DeleteSnapshot(ctx context.Context, tenant core.TenantID) error
}

// Repositories groups the repositories the engine needs.
type Repositories struct {
	Documents DocumentRepository
	Chunks    ChunkRepository
	Tasks     TaskRepository
	Snapshots SnapshotRepository
}
