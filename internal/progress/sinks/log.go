package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/moditems-crawler/internal/progress"
)

// LogSink writes every event at debug level. Mod and run milestones are
// already logged by the worker, so this is only useful when tracing a run.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.String("mod", evt.Mod),
		}
		if evt.Item != "" {
			fields = append(fields, zap.String("item", evt.Item))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Count != 0 {
			fields = append(fields, zap.Int64("count", evt.Count))
		}
		if evt.Dur != 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
