package storage

import (
	"testing"
	"time"

	"github.com/poiesic/tenantrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalID(t *testing.T) {
	for _, id := range []core.ID{0, 42, core.ID(18446744073709551615), core.IDFromContent("test content")} {
		decoded, err := UnmarshalID(MarshalID(id))
		require.NoError(t, err)
		assert.Equal(t, id, decoded)
	}

	_, err := UnmarshalID([]byte{})
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestChunkRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("embedded chunk", func(t *testing.T) {
		chunk := &core.Chunk{
			ID:         core.ChunkID("acme", "handbook", 2, 7),
			TenantID:   "acme",
			DocumentID: "handbook",
			Version:    2,
			Sequence:   7,
			Start:      120,
			End:        620,
			Text:       "héllo wörld",
			Vector:     []float32{0.25, -1.5, 3.75},
			InsertedAt: now,
			UpdatedAt:  now,
		}
		decoded, err := UnmarshalChunk(MarshalChunk(chunk))
		require.NoError(t, err)
		assert.Equal(t, chunk, decoded)
	})

	t.Run("rejected superseded chunk", func(t *testing.T) {
		chunk := &core.Chunk{
			ID:         1,
			TenantID:   "acme",
			DocumentID: "d",
			Version:    1,
			Superseded: true,
			EmbedError: "fatal failure: content cannot be empty",
		}
		decoded, err := UnmarshalChunk(MarshalChunk(chunk))
		require.NoError(t, err)
		assert.Nil(t, decoded.Vector)
		assert.True(t, decoded.Superseded)
		assert.Equal(t, chunk.EmbedError, decoded.EmbedError)
		assert.True(t, decoded.InsertedAt.IsZero())
	})
}

func TestDocumentRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	doc := &core.Document{
		TenantID:     "acme",
		ID:           "policy.md",
		Version:      3,
		ContentHash:  core.ContentHash("body"),
		Status:       core.DocumentIndexed,
		Source:       core.SourceManualUpload,
		Name:         "Policy",
		ChunkCount:   12,
		FailedChunks: 1,
		InsertedAt:   now,
		UpdatedAt:    now.Add(time.Second),
	}
	decoded, err := UnmarshalDocument(MarshalDocument(doc))
	require.NoError(t, err)
	assert.Equal(t, doc, decoded)
}

func TestTaskRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)

	pending := &core.Task{
		ID:             "0f8fad5b-d9cb-469f-a165-70867728950e",
		TenantID:       "acme",
		DocumentID:     "d1",
		Version:        1,
		IdempotencyKey: "acme/d1/v1",
		State:          core.TaskPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	decoded, err := UnmarshalTask(MarshalTask(pending))
	require.NoError(t, err)
	assert.Equal(t, pending, decoded)

	done := *pending
	done.State = core.TaskSucceeded
	done.AttemptCount = 2
	done.LastError = "transient failure: timeout"
	done.Result = &core.IngestResult{DocumentID: "d1", Version: 1, Chunks: 3, Indexed: 3}
	decoded, err = UnmarshalTask(MarshalTask(&done))
	require.NoError(t, err)
	assert.Equal(t, &done, decoded)
}

func TestSnapshotRoundTrip(t *testing.T) {
	snap := &core.IndexSnapshot{
		TenantID:  "acme",
		Dimension: 2,
		Entries: []core.IndexEntry{
			{ChunkID: 1, DocumentID: "a", Version: 1, Vector: []float32{1, 0}},
			{ChunkID: 2, DocumentID: "b", Version: 4, Vector: []float32{0, 1}},
		},
		UpdatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	decoded, err := UnmarshalSnapshot(MarshalSnapshot(snap))
	require.NoError(t, err)
	assert.Equal(t, snap, decoded)

	empty := &core.IndexSnapshot{TenantID: "acme"}
	decoded, err = UnmarshalSnapshot(MarshalSnapshot(empty))
	require.NoError(t, err)
	assert.Empty(t, decoded.Entries)
}

func TestUnmarshal_Invalid(t *testing.T) {
	chunk := MarshalChunk(&core.Chunk{ID: 9, TenantID: "acme", DocumentID: "d", Version: 1, Text: "text", Vector: []float32{1, 2, 3}})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"truncated", chunk[:len(chunk)/2]},
		{"unknown format", append([]byte{0x7e}, chunk[1:]...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalChunk(tt.data)
			assert.ErrorIs(t, err, ErrSerializationFailed)
		})
	}

	_, err := UnmarshalDocument([]byte{0x02})
	assert.ErrorIs(t, err, ErrSerializationFailed)
	_, err = UnmarshalTask(nil)
	assert.ErrorIs(t, err, ErrSerializationFailed)
	_, err = UnmarshalSnapshot([]byte{0x02, 0x01})
	assert.ErrorIs(t, err, ErrSerializationFailed)
}
