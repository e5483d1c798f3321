package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/tvgate/protocol"
	"github.com/luma/tvgate/transport"
)

// Injector is the slice of the TCP server the bridge needs: locate a
// registered connection by login and write an externally-originated
// request to it, keeping the caller's seq for correlation.
type Injector interface {
	InjectRequest(login, seq, command string, args []string, onReply transport.ReplyCallback) error
}

// Bridge relays bus messages into connected clients and their replies
// back out.
//
// Inbound message format (space separated, shell quoted):
//
//	<login> <seq> <command> <arg>*
//
// The reply published on the out channel is "<seq> <status> <command>
// <args...>" exactly as the client answered. The bridge never renumbers
// seq; external systems correlate with their own tokens.
type Bridge struct {
	bus    ExternalBus
	server Injector

	stopWaiter sync.WaitGroup

	log *zap.Logger
}

func NewBridge(bus ExternalBus, server Injector, log *zap.Logger) *Bridge {
	return &Bridge{
		bus:    bus,
		server: server,
		log:    log,
	}
}

// Start launches the bus listener on its own goroutine.
func (b *Bridge) Start(ctx context.Context) {
	b.stopWaiter.Add(1)

	go func() {
		defer b.stopWaiter.Done()

		if err := b.bus.Listen(ctx, b.HandleMessage); err != nil {
			b.log.Error("Bus listener stopped", zap.Error(err))
		}
	}()
}

// Wait blocks until the listener goroutine exits.
func (b *Bridge) Wait() {
	b.stopWaiter.Wait()
}

// HandleMessage processes one inbound bus message. It runs on the bus
// listener goroutine; every error is swallowed into a published
// failure or a log line so the pump never dies.
func (b *Bridge) HandleMessage(channel string, msg []byte) {
	raw := string(msg)

	login, rest, ok := strings.Cut(raw, " ")
	if !ok || login == "" {
		b.publishOut(fmt.Sprintf("UNKNOWN COMMAND: %s", raw))
		return
	}

	seq, body, ok := strings.Cut(rest, " ")
	if !ok || seq == "" {
		b.publishOut(fmt.Sprintf("PROBLEM EXTRACTING SEQUENCE: %s", rest))
		return
	}

	argv, err := protocol.SplitArgs(body)
	if err != nil || len(argv) == 0 {
		b.publishOut(fmt.Sprintf("UNKNOWN COMMAND: %s", raw))
		return
	}

	command := argv[0]

	onReply := func(rec *protocol.Record) {
		b.publishOut(rec.Seq + " " + strings.Join(rec.Argv, " "))
	}

	if err := b.server.InjectRequest(login, seq, command, argv[1:], onReply); err != nil {
		switch {
		case errors.Is(err, transport.ErrNotConnected):
			b.publishOut(fmt.Sprintf("fail %s %s not-connected", seq, command))

		case errors.Is(err, transport.ErrDuplicateSeq):
			b.log.Warn("Duplicate bus seq rejected",
				zap.String("login", login),
				zap.String("seq", seq))
			b.publishOut(fmt.Sprintf("fail %s %s duplicate-seq", seq, command))

		default:
			b.publishOut(fmt.Sprintf("fail %s %s not-handled", seq, command))
		}
	}
}

func (b *Bridge) publishOut(msg string) {
	if err := b.bus.PublishOut(msg); err != nil {
		b.log.Error("Failed to publish on bus",
			zap.String("msg", msg),
			zap.Error(err))
	}
}
