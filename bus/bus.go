// Package bus connects the inner TCP server to the external pub/sub
// transport that administrative systems use to inject commands into
// connected clients and to observe client state.
package bus

import (
	"context"
)

// MessageHandler receives one raw message from the inbound command
// channel. It runs on the bus listener goroutine and must never panic
// or block for long.
type MessageHandler func(channel string, msg []byte)

// ExternalBus is the transport: one subscribed inbound command channel,
// one reply channel and one client-state channel.
type ExternalBus interface {
	// Listen subscribes to the inbound command channel and delivers
	// every message to handler until ctx is cancelled.
	Listen(ctx context.Context, handler MessageHandler) error

	// PublishOut emits a message on the reply channel.
	PublishOut(msg string) error

	// PublishState emits a message on the client-state channel.
	PublishState(msg string) error

	Close() error
}
