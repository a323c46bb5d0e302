package badger

import (
	"bytes"
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/tenantrag/core"
	"github.com/poiesic/tenantrag/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) *DocumentRepository {
	return &DocumentRepository{backend: backend}
}

// PutDocument creates or replaces a document version.
func (r *DocumentRepository) PutDocument(ctx context.Context, doc *core.Document) error {
	if err := core.ValidateDocument(doc); err != nil {
		return err
	}
	return r.backend.update(func(tx *badger.Txn) error {
		key := makeDocumentKey(doc.TenantID, doc.ID, doc.Version)
		old, err := getValue(tx, key, storage.UnmarshalDocument)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		switch {
		case old != nil:
			doc.InsertedAt = old.InsertedAt
		case doc.InsertedAt.IsZero():
			doc.InsertedAt = now
		}
		doc.UpdatedAt = now

		return tx.Set(key, storage.MarshalDocument(doc))
	})
}

// GetDocument retrieves one version of a document.
func (r *DocumentRepository) GetDocument(ctx context.Context, tenant core.TenantID, documentID string, version int) (*core.Document, error) {
	var doc *core.Document
	err := r.backend.view(func(tx *badger.Txn) error {
		var err error
		doc, err = getValue(tx, makeDocumentKey(tenant, documentID, version), storage.UnmarshalDocument)
		if err != nil {
			return err
		}
		if doc == nil {
			return storage.ErrNotFound
		}
		return nil
	})
	return doc, err
}

// LatestDocument retrieves the highest version of a document.
func (r *DocumentRepository) LatestDocument(ctx context.Context, tenant core.TenantID, documentID string) (*core.Document, error) {
	var doc *core.Document
	err := r.backend.view(func(tx *badger.Txn) error {
		prefix := makeDocumentPrefix(tenant, documentID)

		// Reverse iteration starts at the last possible version key
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		iter := tx.NewIterator(opts)
		defer iter.Close()

		seek := append(bytes.Clone(prefix), bytes.Repeat([]byte{0xff}, 8)...)
		iter.Seek(seek)
		if !iter.ValidForPrefix(prefix) {
			return storage.ErrNotFound
		}
		return iter.Item().Value(func(val []byte) error {
			var err error
			doc, err = storage.UnmarshalDocument(val)
			return err
		})
	})
	return doc, err
}

// ListDocuments returns every version of every document of a tenant.
func (r *DocumentRepository) ListDocuments(ctx context.Context, tenant core.TenantID) ([]*core.Document, error) {
	var docs []*core.Document
	err := r.backend.view(func(tx *badger.Txn) error {
		return scanPrefix(tx, tenantKey(documentPrefix, tenant), func(_, val []byte) error {
			doc, err := storage.UnmarshalDocument(val)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
			return nil
		})
	})
	return docs, err
}
