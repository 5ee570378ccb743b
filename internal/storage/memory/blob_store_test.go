package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "raw/abc.md", "text/markdown", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://raw/abc.md", uri)

	payload[0] = 'C'
	stored, ok := store.Object("raw/abc.md")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))

	_, err = store.PutObject(context.Background(), "", "", nil)
	require.Error(t, err)
}

func TestBlobStoreKeepsFirstWrite(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), "raw/abc.md", "", []byte("first"))
	require.NoError(t, err)
	uri, err := store.PutObject(context.Background(), "raw/abc.md", "", []byte("second"))
	require.NoError(t, err)
	require.Equal(t, "memory://raw/abc.md", uri)

	stored, _ := store.Object("raw/abc.md")
	require.Equal(t, "first", string(stored))
	require.Equal(t, 1, store.Len())
}
