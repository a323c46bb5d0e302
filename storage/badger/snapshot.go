package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/tenantrag/core"
	"github.com/poiesic/tenantrag/storage"
)

// SnapshotRepository implements storage.SnapshotRepository for BadgerDB.
type SnapshotRepository struct {
	backend *Backend
}

var _ storage.SnapshotRepository = (*SnapshotRepository)(nil)

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(backend *Backend) *SnapshotRepository {
	return &SnapshotRepository{backend: backend}
}

// SaveSnapshot replaces the snapshot of snap.TenantID.
func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, snap *core.IndexSnapshot) error {
	if err := core.ValidateTenant(snap.TenantID); err != nil {
		return err
	}
	return r.backend.update(func(tx *badger.Txn) error {
		snap.UpdatedAt = time.Now().UTC()
		return tx.Set(makeSnapshotKey(snap.TenantID), storage.MarshalSnapshot(snap))
	})
}

// LoadSnapshot retrieves a tenant's snapshot.
// Returns nil, nil if no snapshot exists.
func (r *SnapshotRepository) LoadSnapshot(ctx context.Context, tenant core.TenantID) (*core.IndexSnapshot, error) {
	var snap *core.IndexSnapshot
	err := r.backend.view(func(tx *badger.Txn) error {
		var err error
		snap, err = getValue(tx, makeSnapshotKey(tenant), storage.UnmarshalSnapshot)
		return err
	})
	return snap, err
}

// DeleteSnapshot removes a tenant's snapshot.
func (r *SnapshotRepository) DeleteSnapshot(ctx context.Context, tenant core.TenantID) error {
	return r.backend.update(func(tx *badger.Txn) error {
		return tx.Delete(makeSnapshotKey(tenant))
	})
}
