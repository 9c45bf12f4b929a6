package progress

import "context"

// Sink receives batches of events from a Hub. A Hub calls Consume from one
// goroutine at a time and calls Close once after the last batch.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is what workers report to; *Hub implements it.
type Emitter interface {
	Emit(evt Event)
}

// Discard is an Emitter that drops every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) {}
