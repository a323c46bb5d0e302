package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/tenantrag/core"
	"github.com/poiesic/tenantrag/storage"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
// Chunks are stored under their tenant, with a secondary index ordered by
// document, version and sequence.
type ChunkRepository struct {
	backend *Backend
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) *ChunkRepository {
	return &ChunkRepository{backend: backend}
}

// PutChunks creates or replaces chunks by ID.
func (r *ChunkRepository) PutChunks(ctx context.Context, chunks ...*core.Chunk) error {
	for _, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return err
		}
	}
	return r.backend.update(func(tx *badger.Txn) error {
		now := time.Now().UTC()
		for _, chunk := range chunks {
			key := makeChunkKey(chunk.TenantID, chunk.ID)
			old, err := getValue(tx, key, storage.UnmarshalChunk)
			if err != nil {
				return err
			}
			switch {
			case old != nil:
				chunk.InsertedAt = old.InsertedAt
			case chunk.InsertedAt.IsZero():
				chunk.InsertedAt = now
			}
			chunk.UpdatedAt = now

			if err := tx.Set(key, storage.MarshalChunk(chunk)); err != nil {
				return err
			}
			if err := tx.Set(makeChunkDocKey(chunk), storage.MarshalID(chunk.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetChunks retrieves chunks by ID within a tenant, skipping missing IDs.
func (r *ChunkRepository) GetChunks(ctx context.Context, tenant core.TenantID, ids ...core.ID) ([]*core.Chunk, error) {
	results := make([]*core.Chunk, 0, len(ids))
	err := r.backend.view(func(tx *badger.Txn) error {
		for _, id := range ids {
			chunk, err := getValue(tx, makeChunkKey(tenant, id), storage.UnmarshalChunk)
			if err != nil {
				return err
			}
			if chunk != nil {
				results = append(results, chunk)
			}
		}
		return nil
	})
	return results, err
}

// ChunksByDocument returns all chunks of all versions of a document.
func (r *ChunkRepository) ChunksByDocument(ctx context.Context, tenant core.TenantID, documentID string) ([]*core.Chunk, error) {
	var results []*core.Chunk
	err := r.backend.view(func(tx *badger.Txn) error {
		return scanPrefix(tx, makeChunkDocPrefix(tenant, documentID), func(_, val []byte) error {
			id, err := storage.UnmarshalID(val)
			if err != nil {
				return err
			}
			chunk, err := getValue(tx, makeChunkKey(tenant, id), storage.UnmarshalChunk)
			if err != nil {
				return err
			}
			if chunk != nil {
				results = append(results, chunk)
			}
			return nil
		})
	})
	return results, err
}

// DeleteChunks removes chunks and their index entries. Missing chunks are ignored.
func (r *ChunkRepository) DeleteChunks(ctx context.Context, tenant core.TenantID, ids ...core.ID) error {
	return r.backend.update(func(tx *badger.Txn) error {
		for _, id := range ids {
			key := makeChunkKey(tenant, id)
			chunk, err := getValue(tx, key, storage.UnmarshalChunk)
			if err != nil {
				return err
			}
			if chunk == nil {
				continue
			}
			if err := tx.Delete(makeChunkDocKey(chunk)); err != nil {
				return err
			}
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// ForEachChunk calls fn for every chunk of a tenant in key order.
func (r *ChunkRepository) ForEachChunk(ctx context.Context, tenant core.TenantID, fn func(*core.Chunk) error) error {
	return r.backend.view(func(tx *badger.Txn) error {
		return scanPrefix(tx, tenantKey(chunkPrefix, tenant), func(_, val []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunk, err := storage.UnmarshalChunk(val)
			if err != nil {
				return err
			}
			return fn(chunk)
		})
	})
}
