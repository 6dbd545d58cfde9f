package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Memory is a synchronous in-process bus. Handlers run on the caller's
// goroutine in subscription order; handler errors are logged, not surfaced.
type Memory struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewMemory builds an empty in-memory bus.
func NewMemory() *Memory {
	return &Memory{handlers: make(map[string][]Handler)}
}

// Subscribe implements Bus.
func (b *Memory) Subscribe(kind string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish implements Bus.
func (b *Memory) Publish(ctx context.Context, kind string, payload any) error {
	return b.dispatch(ctx, kind, payload)
}

// Send implements Bus.
func (b *Memory) Send(ctx context.Context, kind string, payload any) error {
	return b.dispatch(ctx, kind, payload)
}

func (b *Memory) dispatch(ctx context.Context, kind string, payload any) error {
	body, err := encode(kind, payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[kind]))
	copy(handlers, b.handlers[kind])
	b.mu.RUnlock()

	msg := Message{Kind: kind, Body: body}
	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			log.Error().Err(err).Str("kind", kind).Msg("Bus handler failed")
		}
	}
	return nil
}
