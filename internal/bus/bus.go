package bus

import (
	"context"
	"log/slog"
	"sync"
)

const defaultInboundBuffer = 256

// MessageBus carries inbound envelopes from channels to the processor and
// fans out internal events to subscribers.
type MessageBus struct {
	inbound chan Envelope

	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// New creates a MessageBus with the default inbound buffer.
func New() *MessageBus {
	return NewWithBuffer(defaultInboundBuffer)
}

// NewWithBuffer creates a MessageBus with an explicit inbound buffer size.
func NewWithBuffer(size int) *MessageBus {
	if size <= 0 {
		size = defaultInboundBuffer
	}
	return &MessageBus{
		inbound:  make(chan Envelope, size),
		handlers: make(map[string]EventHandler),
	}
}

// PublishInbound queues an envelope for the consumer.
// Blocks when the buffer is full, which applies back-pressure to the channel reader.
func (b *MessageBus) PublishInbound(env Envelope) {
	b.inbound <- env
}

// ConsumeInbound returns the next envelope, or false once ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (Envelope, bool) {
	select {
	case <-ctx.Done():
		return Envelope{}, false
	case env := <-b.inbound:
		return env, true
	}
}

// Subscribe registers a handler under id, replacing any previous handler with that id.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

// Unsubscribe removes the handler registered under id.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Broadcast delivers event to every subscriber synchronously.
// A panicking handler is logged and does not stop delivery to the others.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("bus: event handler panicked", "event", event.Name, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
