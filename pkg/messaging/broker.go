package messaging

import (
	"context"
)

// Broker publishes JSON-encoded messages to named channels.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Nop discards everything. Used when event publishing is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, string, interface{}) error { return nil }

func (Nop) Subscribe(ctx context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (Nop) Close() error { return nil }
