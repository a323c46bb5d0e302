package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/tenantrag/core"
	"github.com/poiesic/tenantrag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")
	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := OpenBackend(file, false)
	assert.Error(t, err)
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	repos := NewRepositories(backend)
	_, err = repos.Tasks.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestKeys_TenantPrefixesDoNotOverlap(t *testing.T) {
	a := tenantKey(chunkPrefix, "ab")
	b := makeChunkKey("abc", core.ID(1))
	assert.NotEqual(t, a, b[:len(a)], "tenant ab must not prefix keys of tenant abc")

	v1 := makeDocumentKey("t", "doc", 1)
	v2 := makeDocumentKey("t", "doc", 2)
	assert.Less(t, string(v1), string(v2))
}
