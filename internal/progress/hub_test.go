package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubDeliversFullBatchImmediately(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BatchSize: 2, FlushInterval: time.Hour}, sink)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	hub.Emit(modEvent(StageModStart, "AppleSkin"))
	hub.Emit(modEvent(StageModDone, "AppleSkin"))

	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 2, hub.Accepted())
}

func TestHubFlushesPartialBatchOnInterval(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BatchSize: 50, FlushInterval: 20 * time.Millisecond}, sink)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	hub.Emit(modEvent(StageModSkipped, "Botania"))

	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubCloseDeliversQueuedEventsAndClosesSinks(t *testing.T) {
	t.Parallel()

	first, second := &recordingSink{}, &recordingSink{}
	hub := NewHub(Config{BatchSize: 100, FlushInterval: time.Hour}, first, nil, second)

	hub.Emit(modEvent(StageModStart, "Create"))
	hub.Emit(modEvent(StageModError, "Create"))
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))

	for _, sink := range []*recordingSink{first, second} {
		batches := sink.Batches()
		require.Len(t, batches, 1)
		require.Equal(t, StageModError, batches[0][1].Stage)
		require.True(t, sink.Closed())
	}

	hub.Emit(modEvent(StageModStart, "Create"))
	require.EqualValues(t, 2, hub.Accepted())
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{Stage: StageModStart})
	require.NoError(t, hub.Close(context.Background()))

	require.Zero(t, hub.Accepted())
	require.Empty(t, sink.Batches())
}

func TestHubEmitDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	// No loop goroutine drains in, so every send hits the full buffer.
	hub := &Hub{in: make(chan Event), logger: zap.NewNop()}

	start := time.Now()
	for range 3 {
		hub.Emit(modEvent(StageModStart, "AppleSkin"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 3, hub.Dropped())
	require.Zero(t, hub.Accepted())
}

func TestHubSinkErrorsDoNotStopDelivery(t *testing.T) {
	t.Parallel()

	healthy := &recordingSink{}
	failing := &recordingSink{err: errors.New("sink down")}
	hub := NewHub(Config{BatchSize: 1}, failing, healthy)

	hub.Emit(modEvent(StageModDone, "AppleSkin"))
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, healthy.Batches(), 1)
}

func TestHubCloseHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	blocking := &recordingSink{block: release}
	hub := NewHub(Config{BatchSize: 1, SinkTimeout: time.Hour}, blocking)
	hub.Emit(modEvent(StageModStart, "AppleSkin"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, hub.Close(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, hub.Close(context.Background()))
}

func TestNilHubIsInert(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(modEvent(StageModStart, "AppleSkin"))
	require.NoError(t, hub.Close(context.Background()))
	require.Zero(t, hub.Accepted())
	require.Zero(t, hub.Dropped())
}

type recordingSink struct {
	err   error
	block chan struct{}

	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func (s *recordingSink) Consume(ctx context.Context, batch []Event) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return s.err
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func (s *recordingSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func modEvent(stage Stage, mod string) Event {
	return Event{
		RunID: UUIDToBytes(uuid.New()),
		TS:    time.Now().UTC(),
		Stage: stage,
		Mod:   mod,
	}
}
