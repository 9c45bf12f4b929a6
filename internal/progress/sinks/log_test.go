package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/moditems-crawler/internal/progress"
)

func TestLogSinkWritesFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	runID := uuid.New()
	batch := []progress.Event{
		{RunID: progress.UUIDToBytes(runID), TS: time.Now(), Stage: progress.StageModStart, Mod: "AppleSkin"},
		{
			RunID: progress.UUIDToBytes(runID),
			TS:    time.Now(),
			Stage: progress.StageImageResolved,
			Mod:   "AppleSkin",
			Item:  "Apple",
			URL:   "https://example.com/a.png",
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "progress event", entries[0].Message)
	ctx := entries[1].ContextMap()
	require.Equal(t, runID.String(), ctx["run_id"])
	require.Equal(t, "IMAGE_RESOLVED", ctx["stage"])
	require.Equal(t, "Apple", ctx["item"])
	require.Equal(t, "https://example.com/a.png", ctx["url"])
	_, hasNote := entries[0].ContextMap()["note"]
	require.False(t, hasNote)
}
