// Package bus routes the engine's events and commands. The in-memory
// implementation dispatches synchronously and backs tests; the durable
// implementation rides the store's outbox so commands survive restarts.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message is one serialized event or command in flight.
type Message struct {
	Kind string
	Body []byte
}

// Decode unmarshals the message body into out.
func (m Message) Decode(out any) error {
	if err := json.Unmarshal(m.Body, out); err != nil {
		return fmt.Errorf("decode %s message: %w", m.Kind, err)
	}
	return nil
}

// Handler consumes one message. A non-nil error tells a durable bus to
// redeliver.
type Handler func(ctx context.Context, msg Message) error

// Bus publishes events, sends commands and registers subscribers. Events are
// broadcast to every subscriber of their kind; commands are directed but
// share the same delivery plumbing here, with the target endpoint carried in
// the message body.
type Bus interface {
	Publish(ctx context.Context, kind string, payload any) error
	Send(ctx context.Context, kind string, payload any) error
	Subscribe(kind string, h Handler)
}

func encode(kind string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", kind, err)
	}
	return body, nil
}
