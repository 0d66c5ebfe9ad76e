package chat

import "context"

// Provider opens a chat stream for a broadcast.
type Provider interface {
	Open(ctx context.Context, videoID string) (Handle, error)
}

// Handle is an open chat stream.
type Handle interface {
	// IsAlive reports whether the stream may still produce events.
	IsAlive() bool
	// Poll returns the events received since the previous call, in arrival
	// order. An empty batch is not an error.
	Poll(ctx context.Context) ([]RawEvent, error)
	Close() error
}

// EventSink receives raw events from a polling loop.
type EventSink interface {
	HandleEvent(ctx context.Context, videoID string, ev RawEvent)
}

// Notifier receives human-readable status messages.
type Notifier interface {
	Notify(text string)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, videoID string) (Handle, error)

func (f ProviderFunc) Open(ctx context.Context, videoID string) (Handle, error) {
	return f(ctx, videoID)
}
