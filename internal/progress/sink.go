package progress

import "context"

// Sink consumes batches of progress events. The Hub calls Consume from its
// delivery goroutine only, in emit order; ctx carries the per-sink timeout.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts single events. Hub implements it.
type Emitter interface {
	Emit(evt Event)
}
