package bus

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Default logical channel names on the redis side.
const (
	DefaultChannelIn    = "tvgate.cmd.in"
	DefaultChannelOut   = "tvgate.cmd.out"
	DefaultChannelState = "tvgate.clients.state"
)

// RedisOptions configures the redis-backed bus.
type RedisOptions struct {
	// URL is a redis connection string (redis://...).
	URL string

	// ChannelIn / ChannelOut / ChannelState override the default
	// channel names when non-empty.
	ChannelIn    string
	ChannelOut   string
	ChannelState string

	Log *zap.Logger
}

// RedisBus implements ExternalBus over redis pub/sub.
type RedisBus struct {
	client *redis.Client

	channelIn    string
	channelOut   string
	channelState string

	log *zap.Logger
}

// NewRedisBus connects and pings the redis endpoint. A failure here is
// fatal for the server binary.
func NewRedisBus(ctx context.Context, options RedisOptions) (*RedisBus, error) {
	opts, err := redis.ParseURL(options.URL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	b := &RedisBus{
		client:       client,
		channelIn:    options.ChannelIn,
		channelOut:   options.ChannelOut,
		channelState: options.ChannelState,
		log:          options.Log,
	}

	if b.channelIn == "" {
		b.channelIn = DefaultChannelIn
	}

	if b.channelOut == "" {
		b.channelOut = DefaultChannelOut
	}

	if b.channelState == "" {
		b.channelState = DefaultChannelState
	}

	return b, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

// Listen subscribes to the inbound command channel and pumps messages
// into handler until ctx is cancelled. It is intended to run on its own
// goroutine; errors from individual messages never stop the pump.
func (b *RedisBus) Listen(ctx context.Context, handler MessageHandler) error {
	sub := b.client.Subscribe(ctx, b.channelIn)
	defer sub.Close()

	// Force the subscription before we report listening.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	b.log.Info("Listening on bus", zap.String("channel", b.channelIn))

	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			handler(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (b *RedisBus) PublishOut(msg string) error {
	return b.client.Publish(context.Background(), b.channelOut, msg).Err()
}

func (b *RedisBus) PublishState(msg string) error {
	return b.client.Publish(context.Background(), b.channelState, msg).Err()
}

var _ ExternalBus = (*RedisBus)(nil)
