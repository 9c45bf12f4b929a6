package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "Apple_abc.png", "image/png", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://Apple_abc.png", uri)

	payload[0] = 'C'
	stored, ok := store.Get("Apple_abc.png")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, 1, store.Len())

	_, ok = store.Get("missing.png")
	require.False(t, ok)
}
