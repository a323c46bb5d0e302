package badger

import (
	"context"
	"fmt"
	"testing"

	"github.com/poiesic/tenantrag/core"
	"github.com/poiesic/tenantrag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepositories(t *testing.T) *storage.Repositories {
	t.Helper()
	repos, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return repos
}

func testChunk(tenant core.TenantID, doc string, version, seq int) *core.Chunk {
	return &core.Chunk{
		ID:         core.ChunkID(tenant, doc, version, seq),
		TenantID:   tenant,
		DocumentID: doc,
		Version:    version,
		Sequence:   seq,
		Start:      seq * 10,
		End:        seq*10 + 10,
		Text:       fmt.Sprintf("%s v%d #%d", doc, version, seq),
		Vector:     []float32{float32(seq), 1},
	}
}

func TestDocumentRepository_Versions(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	_, err := repos.Documents.LatestDocument(ctx, "acme", "handbook")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	for v := 1; v <= 3; v++ {
		require.NoError(t, repos.Documents.PutDocument(ctx, &core.Document{
			TenantID: "acme", ID: "handbook", Version: v, Status: core.DocumentUploaded,
		}))
	}
	// A longer document ID with a shared prefix must not be seen as a version.
	require.NoError(t, repos.Documents.PutDocument(ctx, &core.Document{
		TenantID: "acme", ID: "handbook-2", Version: 9, Status: core.DocumentUploaded,
	}))

	latest, err := repos.Documents.LatestDocument(ctx, "acme", "handbook")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)

	doc, err := repos.Documents.GetDocument(ctx, "acme", "handbook", 2)
	require.NoError(t, err)
	assert.False(t, doc.InsertedAt.IsZero())

	_, err = repos.Documents.GetDocument(ctx, "acme", "handbook", 7)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = repos.Documents.LatestDocument(ctx, "other", "handbook")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	all, err := repos.Documents.ListDocuments(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestDocumentRepository_UpdateKeepsInsertedAt(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	doc := &core.Document{TenantID: "acme", ID: "d", Version: 1, Status: core.DocumentUploaded}
	require.NoError(t, repos.Documents.PutDocument(ctx, doc))
	inserted := doc.InsertedAt

	doc.Status = core.DocumentIndexed
	require.NoError(t, repos.Documents.PutDocument(ctx, doc))

	stored, err := repos.Documents.GetDocument(ctx, "acme", "d", 1)
	require.NoError(t, err)
	assert.Equal(t, core.DocumentIndexed, stored.Status)
	assert.True(t, inserted.Equal(stored.InsertedAt))
	assert.False(t, stored.UpdatedAt.Before(stored.InsertedAt))
}

func TestDocumentRepository_RejectsInvalid(t *testing.T) {
	repos := newTestRepositories(t)
	err := repos.Documents.PutDocument(context.Background(), &core.Document{ID: "d", Version: 1, Status: core.DocumentUploaded})
	assert.ErrorIs(t, err, core.ErrInvalidTenant)
}

func TestChunkRepository_CRUD(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	chunks := []*core.Chunk{
		testChunk("acme", "d", 2, 1),
		testChunk("acme", "d", 1, 0),
		testChunk("acme", "d", 2, 0),
		testChunk("acme", "e", 1, 0),
	}
	require.NoError(t, repos.Chunks.PutChunks(ctx, chunks...))

	byDoc, err := repos.Chunks.ChunksByDocument(ctx, "acme", "d")
	require.NoError(t, err)
	require.Len(t, byDoc, 3)
	assert.Equal(t, []int{1, 2, 2}, []int{byDoc[0].Version, byDoc[1].Version, byDoc[2].Version})
	assert.Equal(t, []int{0, 0, 1}, []int{byDoc[0].Sequence, byDoc[1].Sequence, byDoc[2].Sequence})

	got, err := repos.Chunks.GetChunks(ctx, "acme", chunks[0].ID, core.ID(12345))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, chunks[0].Text, got[0].Text)

	require.NoError(t, repos.Chunks.DeleteChunks(ctx, "acme", chunks[0].ID, core.ID(12345)))
	byDoc, err = repos.Chunks.ChunksByDocument(ctx, "acme", "d")
	require.NoError(t, err)
	assert.Len(t, byDoc, 2)
}

func TestChunkRepository_TenantIsolation(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	a := testChunk("tenant-a", "shared", 1, 0)
	b := testChunk("tenant-b", "shared", 1, 0)
	require.NoError(t, repos.Chunks.PutChunks(ctx, a, b))

	got, err := repos.Chunks.GetChunks(ctx, "tenant-b", a.ID)
	require.NoError(t, err)
	assert.Empty(t, got, "tenant b cannot read tenant a's chunk by id")

	var seen []core.TenantID
	err = repos.Chunks.ForEachChunk(ctx, "tenant-a", func(c *core.Chunk) error {
		seen = append(seen, c.TenantID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []core.TenantID{"tenant-a"}, seen)
}

func TestChunkRepository_ForEachStopsOnError(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, repos.Chunks.PutChunks(ctx, testChunk("acme", "d", 1, i)))
	}

	stop := fmt.Errorf("stop")
	count := 0
	err := repos.Chunks.ForEachChunk(ctx, "acme", func(*core.Chunk) error {
		count++
		if count == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, count)
}

func TestTaskRepository(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	_, err := repos.Tasks.TaskByKey(ctx, "acme", "d/v1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	first := &core.Task{ID: "t1", TenantID: "acme", DocumentID: "d", Version: 1, IdempotencyKey: "d/v1", State: core.TaskFailed}
	require.NoError(t, repos.Tasks.SaveTask(ctx, first))
	second := &core.Task{ID: "t2", TenantID: "acme", DocumentID: "d", Version: 1, IdempotencyKey: "d/v1", State: core.TaskPending}
	require.NoError(t, repos.Tasks.SaveTask(ctx, second))

	byKey, err := repos.Tasks.TaskByKey(ctx, "acme", "d/v1")
	require.NoError(t, err)
	assert.Equal(t, "t2", byKey.ID)

	// The same key in another tenant is a different mapping
	_, err = repos.Tasks.TaskByKey(ctx, "other", "d/v1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	foreign := &core.Task{ID: "t3", TenantID: "other", DocumentID: "d", Version: 1, IdempotencyKey: "d/v1", State: core.TaskSucceeded}
	require.NoError(t, repos.Tasks.SaveTask(ctx, foreign))
	byKey, err = repos.Tasks.TaskByKey(ctx, "acme", "d/v1")
	require.NoError(t, err)
	assert.Equal(t, "t2", byKey.ID)

	got, err := repos.Tasks.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, core.TaskFailed, got.State)

	_, err = repos.Tasks.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	all, err := repos.Tasks.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSnapshotRepository(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	snap, err := repos.Snapshots.LoadSnapshot(ctx, "acme")
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, repos.Snapshots.SaveSnapshot(ctx, &core.IndexSnapshot{
		TenantID:  "acme",
		Dimension: 2,
		Entries:   []core.IndexEntry{{ChunkID: 7, DocumentID: "d", Version: 1, Vector: []float32{1, 0}}},
	}))

	snap, err = repos.Snapshots.LoadSnapshot(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.Dimension)
	assert.Len(t, snap.Entries, 1)
	assert.False(t, snap.UpdatedAt.IsZero())

	other, err := repos.Snapshots.LoadSnapshot(ctx, "acme2")
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, repos.Snapshots.DeleteSnapshot(ctx, "acme"))
	snap, err = repos.Snapshots.LoadSnapshot(ctx, "acme")
	require.NoError(t, err)
	assert.Nil(t, snap)
}
