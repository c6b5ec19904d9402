package progress

import "context"

// Sink receives batched progress events. Implementations must tolerate
// being called from a single background goroutine and should respect the
// context deadline set by the hub.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is the write side of the hub handed to pipeline components.
type Emitter interface {
	Emit(evt Event)
}

// Nop discards every event. It stands in for the hub when progress
// reporting is disabled.
type Nop struct{}

// Emit discards the event.
func (Nop) Emit(Event) {}
