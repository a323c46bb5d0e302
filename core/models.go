package core

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for chunks.
// It is derived from content so that re-processing yields the same ID.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ChunkID returns the deterministic ID of the chunk at position seq of a document version.
func ChunkID(tenant TenantID, documentID string, version int, seq int) ID {
	return IDFromContent(string(tenant) + "/" + documentID + "/" + strconv.Itoa(version) + "/" + strconv.Itoa(seq))
}

// ContentHash returns the hex encoded BLAKE2b-256 digest of a document body.
func ContentHash(text string) string {
	h, _ := blake2b.New(32, nil)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// TenantID identifies an isolated organization. It is supplied by the caller
// and trusted as-is.
type TenantID string

// DocumentStatus tracks a document version through ingestion.
type DocumentStatus int

const (
	DocumentUploaded DocumentStatus = iota + 1
	DocumentChunked
	DocumentIndexed
	DocumentFailed
)

func (s DocumentStatus) String() string {
	switch s {
	case DocumentUploaded:
		return "UPLOADED"
	case DocumentChunked:
		return "CHUNKED"
	case DocumentIndexed:
		return "INDEXED"
	case DocumentFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// SourceType records how a document entered the system.
type SourceType string

const (
	SourceAPI                SourceType = "api"
	SourceManualUpload       SourceType = "manual_upload"
	SourceDirectoryIngestion SourceType = "directory_ingestion"
)

// Document is one version of a logical document belonging to a tenant.
type Document struct {
	TenantID     TenantID
	ID           string
	Version      int
	ContentHash  string
	Status       DocumentStatus
	Source       SourceType
	Name         string
	ChunkCount   int // Number of chunks produced by the chunker
	FailedChunks int // Chunks rejected by the embedding service
	InsertedAt   time.Time
	UpdatedAt    time.Time
}

// Chunk is a contiguous span of a document version's text.
type Chunk struct {
	ID         ID
	TenantID   TenantID
	DocumentID string
	Version    int
	Sequence   int
	Start      int // Byte offset of the span in the source text
	End        int // Byte offset one past the span
	Text       string
	Vector     []float32 // Embedding vector (empty when embedding failed)
	Superseded bool      // Set when a newer version of the document is indexed
	EmbedError string    // Why the chunk could not be embedded, if it could not
	InsertedAt time.Time
	UpdatedAt  time.Time
}

// Indexed reports whether the chunk has a vector and belongs to the searchable set.
func (c *Chunk) Indexed() bool {
	return len(c.Vector) > 0 && !c.Superseded
}

// TaskState is a state of the ingestion task state machine.
type TaskState int

const (
	TaskPending TaskState = iota + 1
	TaskProcessing
	TaskSucceeded
	TaskFailed
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "PENDING"
	case TaskProcessing:
		return "PROCESSING"
	case TaskSucceeded:
		return "SUCCEEDED"
	case TaskFailed:
		return "FAILED"
	case TaskCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions are allowed.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCancelled
}

// Task is one document's ingestion job.
type Task struct {
	ID             string
	TenantID       TenantID
	DocumentID     string
	Version        int
	IdempotencyKey string
	State          TaskState
	AttemptCount   int
	LastError      string
	Result         *IngestResult // Set once the task succeeds
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Status returns the externally visible status of the task.
func (t *Task) Status() TaskStatus {
	return TaskStatus{
		State:        t.State,
		AttemptCount: t.AttemptCount,
		LastError:    t.LastError,
	}
}

// TaskStatus is the payload served to status pollers.
type TaskStatus struct {
	State        TaskState
	AttemptCount int
	LastError    string
}

// IngestResult summarizes a completed ingestion run.
type IngestResult struct {
	DocumentID string
	Version    int
	Chunks     int // Chunks produced
	Indexed    int // Chunks added to the index
	Skipped    int // Chunks rejected by the embedding service
	Superseded int // Chunks of earlier versions removed from the index
}

// IndexEntry is a vector slot in a tenant index.
type IndexEntry struct {
	ChunkID    ID
	DocumentID string
	Version    int
	Vector     []float32
}

// IndexSnapshot is the persisted form of a tenant index. It holds live
// entries only.
type IndexSnapshot struct {
	TenantID  TenantID
	Dimension int
	Entries   []IndexEntry
	UpdatedAt time.Time
}

// Hit is a single nearest-neighbor match.
type Hit struct {
	ChunkID    ID
	DocumentID string
	Version    int
	Score      float32
}

// Source is a chunk used as context for an answer.
type Source struct {
	ChunkID    ID
	DocumentID string
	Version    int
	Sequence   int
	Text       string
	Similarity float32
	Freshness  float32
	Score      float32 // Similarity weighted by freshness
}

// Answer is the result of a query.
type Answer struct {
	Text    string
	Sources []Source
}
