package bus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/inletworks/inlet/internal/store"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultBatchSize    = 100
)

// Durable is an at-least-once bus backed by the store's outbox table.
// Messages are appended durably on Publish/Send and delivered by a single
// dispatcher goroutine; a message is marked dispatched only after every
// subscriber of its kind succeeded, so failed handlers see it again.
type Durable struct {
	store        *store.Store
	pollInterval time.Duration

	mu       sync.RWMutex
	handlers map[string][]Handler

	wake chan struct{}
}

// NewDurable builds a durable bus over the store.
func NewDurable(st *store.Store) *Durable {
	return &Durable{
		store:        st,
		pollInterval: defaultPollInterval,
		handlers:     make(map[string][]Handler),
		wake:         make(chan struct{}, 1),
	}
}

// Subscribe implements Bus. Subscriptions must be registered before Run.
func (b *Durable) Subscribe(kind string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish implements Bus.
func (b *Durable) Publish(ctx context.Context, kind string, payload any) error {
	return b.append(ctx, kind, payload)
}

// Send implements Bus.
func (b *Durable) Send(ctx context.Context, kind string, payload any) error {
	return b.append(ctx, kind, payload)
}

func (b *Durable) append(ctx context.Context, kind string, payload any) error {
	body, err := encode(kind, payload)
	if err != nil {
		return err
	}
	if _, err := b.store.OutboxAppend(ctx, kind, body); err != nil {
		return err
	}
	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run drives the dispatcher until ctx is cancelled, draining any pending
// backlog first so in-flight work survives restarts.
func (b *Durable) Run(ctx context.Context) {
	log.Debug().Msg("Durable bus dispatcher started")
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		b.drain(ctx)
		select {
		case <-ctx.Done():
			log.Debug().Msg("Durable bus dispatcher stopped")
			return
		case <-b.wake:
		case <-ticker.C:
		}
	}
}

func (b *Durable) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		pending, err := b.store.OutboxPending(ctx, defaultBatchSize)
		if err != nil {
			log.Error().Err(err).Msg("Failed to read outbox")
			return
		}
		if len(pending) == 0 {
			return
		}

		for _, msg := range pending {
			if ctx.Err() != nil {
				return
			}
			if b.deliver(ctx, Message{Kind: msg.Kind, Body: msg.Body}) {
				if err := b.store.OutboxMarkDispatched(ctx, msg.ID); err != nil {
					log.Error().Err(err).Int64("id", msg.ID).Msg("Failed to mark outbox message dispatched")
				}
			}
		}
		if len(pending) < defaultBatchSize {
			return
		}
	}
}

// deliver runs every handler for the message's kind; true means all
// succeeded (or none are registered and the message can be dropped).
func (b *Durable) deliver(ctx context.Context, msg Message) bool {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[msg.Kind]))
	copy(handlers, b.handlers[msg.Kind])
	b.mu.RUnlock()

	ok := true
	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			log.Error().Err(err).Str("kind", msg.Kind).Msg("Bus handler failed; message will be redelivered")
			ok = false
		}
	}
	return ok
}
