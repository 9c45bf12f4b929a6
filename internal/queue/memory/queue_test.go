package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/moditems-crawler/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{ModName: "AppleSkin"}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "AppleSkin", got.ModName)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := qDequeue.Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	qEnqueue := NewQueue(1)
	require.NoError(t, qEnqueue.Enqueue(context.Background(), crawler.QueueItem{ModName: "primed"}))
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	err = qEnqueue.Enqueue(ctx, crawler.QueueItem{ModName: "blocked"})
	require.EqualError(t, err, "enqueue canceled: context canceled")
}

func TestQueueCloseDrainsThenReportsClosed(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{ModName: "AppleSkin"}))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(context.Background(), crawler.QueueItem{ModName: "late"}), ErrClosed)

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AppleSkin", item.ModName)

	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
