package badger

import (
	"encoding/binary"

	"github.com/poiesic/tenantrag/core"
)

// Key prefixes for different data types
const (
	documentPrefix = "doc:"
	chunkPrefix    = "chk:"
	chunkDocPrefix = "chd:"
	taskPrefix     = "tsk:"
	taskKeyPrefix  = "tsi:"
	snapshotPrefix = "snp:"
)

// appendSegment appends a length-prefixed string so that keys built from
// arbitrary tenant and document identifiers never collide or share a
// prefix by accident.
func appendSegment(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// appendUint appends v in BigEndian order so lexicographic sort matches numeric order.
func appendUint(buf []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, v)
}

func tenantKey(prefix string, tenant core.TenantID) []byte {
	return appendSegment([]byte(prefix), string(tenant))
}

// makeDocumentPrefix covers every version of one document.
// Format: prefix|tenant|documentID
func makeDocumentPrefix(tenant core.TenantID, documentID string) []byte {
	return appendSegment(tenantKey(documentPrefix, tenant), documentID)
}

// makeDocumentKey generates a key for one document version.
// Format: prefix|tenant|documentID|version
func makeDocumentKey(tenant core.TenantID, documentID string, version int) []byte {
	return appendUint(makeDocumentPrefix(tenant, documentID), uint64(version))
}

// makeChunkKey generates a key for a chunk by ID.
// Format: prefix|tenant|id
func makeChunkKey(tenant core.TenantID, id core.ID) []byte {
	return appendUint(tenantKey(chunkPrefix, tenant), uint64(id))
}

// makeChunkDocPrefix covers the document index entries of one document.
func makeChunkDocPrefix(tenant core.TenantID, documentID string) []byte {
	return appendSegment(tenantKey(chunkDocPrefix, tenant), documentID)
}

// makeChunkDocKey generates a composite key for the document index.
// Format: prefix|tenant|documentID|version|sequence|id
func makeChunkDocKey(chunk *core.Chunk) []byte {
	key := makeChunkDocPrefix(chunk.TenantID, chunk.DocumentID)
	key = appendUint(key, uint64(chunk.Version))
	key = appendUint(key, uint64(chunk.Sequence))
	return appendUint(key, uint64(chunk.ID))
}

// makeTaskKey generates a key for a task by ID.
func makeTaskKey(id string) []byte {
	return []byte(taskPrefix + id)
}

// makeTaskIdempotencyKey generates the key mapping a tenant's idempotency
// key to a task ID.
// Format: prefix|tenant|key
func makeTaskIdempotencyKey(tenant core.TenantID, key string) []byte {
	return appendSegment(tenantKey(taskKeyPrefix, tenant), key)
}

// makeSnapshotKey generates the key of a tenant's index snapshot.
func makeSnapshotKey(tenant core.TenantID) []byte {
	return tenantKey(snapshotPrefix, tenant)
}
