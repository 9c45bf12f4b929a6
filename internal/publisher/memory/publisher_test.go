package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "mods", map[string]any{"mod_name": "AppleSkin"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "mods", map[string]any{"mod_name": "Create"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "mods", msgs[0].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "mods", pub.Messages()[0].Topic)
}

func TestPublisherSetError(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.SetError(errors.New("unavailable"))
	_, err := pub.Publish(context.Background(), "mods", nil)
	require.EqualError(t, err, "unavailable")
	require.Empty(t, pub.Messages())

	pub.SetError(nil)
	_, err = pub.Publish(context.Background(), "mods", nil)
	require.NoError(t, err)
}
