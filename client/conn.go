// Package client implements the device side of the tvgate inner
// protocol: it answers the server's who_are_you and ping requests and
// issues the client command set. The media pipeline lives elsewhere;
// this is only the session plumbing.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/luma/tvgate/payload"
	"github.com/luma/tvgate/protocol"
)

var ErrFailResponse = errors.New("Server answered with fail")

type Conn struct {
	ctx context.Context

	conn net.Conn

	auth       payload.AuthInfo
	clientInfo payload.ClientInfo

	chatChan chan *payload.ChatMessage

	respMu    sync.Mutex
	respChans map[string]chan *protocol.Record

	requestID uint64

	framer protocol.Framer

	log *zap.Logger
}

// New builds a client that will identify as auth when the server asks.
func New(auth payload.AuthInfo, log *zap.Logger) *Conn {
	return &Conn{
		auth:      auth,
		chatChan:  make(chan *payload.ChatMessage, 255),
		respChans: make(map[string]chan *protocol.Record),
		log:       log,
	}
}

// SetClientInfo sets the hardware report answered to get_client_info.
func (c *Conn) SetClientInfo(info payload.ClientInfo) {
	c.clientInfo = info
}

func (c *Conn) Connect(ctx context.Context, addr string) error {
	c.ctx = ctx

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}

	c.conn = conn

	go c.readLoop()

	return nil
}

func (c *Conn) Disconnect() error {
	return c.conn.Close()
}

// ChatChan delivers server_send_chat_message pushes.
func (c *Conn) ChatChan() <-chan *payload.ChatMessage {
	return c.chatChan
}

// Ping performs a client_ping exchange.
func (c *Conn) Ping(ctx context.Context) (*payload.ClientPingInfo, error) {
	rec, err := c.roundTrip(ctx, protocol.ClientPing)
	if err != nil {
		return nil, err
	}

	var info payload.ClientPingInfo

	if err := unmarshalArg(rec, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

// GetServerInfo fetches the server's advertised endpoints.
func (c *Conn) GetServerInfo(ctx context.Context) (*payload.ServerInfo, error) {
	rec, err := c.roundTrip(ctx, protocol.GetServerInfo)
	if err != nil {
		return nil, err
	}

	var info payload.ServerInfo

	if err := unmarshalArg(rec, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

// GetChannels fetches the channel list of a registered user.
func (c *Conn) GetChannels(ctx context.Context) (payload.ChannelsInfo, error) {
	rec, err := c.roundTrip(ctx, protocol.GetChannels)
	if err != nil {
		return nil, err
	}

	var channels payload.ChannelsInfo

	if err := unmarshalArg(rec, &channels); err != nil {
		return nil, err
	}

	return channels, nil
}

// GetRuntimeChannelInfo selects sid as the watched stream and returns
// its live chat policy and watcher count.
func (c *Conn) GetRuntimeChannelInfo(ctx context.Context, sid string) (*payload.RuntimeChannelInfo, error) {
	rec, err := c.roundTrip(ctx, protocol.GetRuntimeChannelInfo, sid)
	if err != nil {
		return nil, err
	}

	var info payload.RuntimeChannelInfo

	if err := unmarshalArg(rec, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

// SendChatMessage publishes msg to the co-viewers of its stream.
func (c *Conn) SendChatMessage(ctx context.Context, msg payload.ChatMessage) error {
	body, err := msg.Marshal()
	if err != nil {
		return err
	}

	_, err = c.roundTrip(ctx, protocol.ClientSendChatMessage, string(body))

	return err
}

func (c *Conn) roundTrip(ctx context.Context, command string, args ...string) (*protocol.Record, error) {
	seq, respChan := c.createResponseChan()
	defer c.destroyResponseChan(seq)

	if _, err := c.conn.Write(protocol.MakeRequest(seq, command, args...)); err != nil {
		return nil, err
	}

	select {
	case rec := <-respChan:
		if !rec.Ok() {
			return nil, fmt.Errorf("%w: %v", ErrFailResponse, rec.Args())
		}

		return rec, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) readLoop() {
	log := c.log.Named("readLoop")

	buf := make([]byte, 4096)

	for {
		select {
		case <-c.ctx.Done():
			log.Info("Context cancelled, exiting...")
			return

		default:
			n, err := c.conn.Read(buf)
			if n > 0 {
				records, ferr := c.framer.Feed(buf[:n])

				for _, rec := range records {
					c.handleRecord(rec)
				}

				if ferr != nil {
					log.Warn("Failed to parse server bytes", zap.Error(ferr))
					return
				}
			}

			if err != nil {
				return
			}
		}
	}
}

func (c *Conn) handleRecord(rec *protocol.Record) {
	switch rec.Kind {
	case protocol.KindRequest:
		c.handleServerRequest(rec)

	case protocol.KindResponse:
		c.sendToResponseChan(rec.Seq, rec)

	case protocol.KindApprove:
		// The server acknowledged one of our responses; exchange over.
	}
}

// handleServerRequest answers requests the server originates.
func (c *Conn) handleServerRequest(rec *protocol.Record) {
	switch rec.Command() {
	case protocol.WhoAreYou:
		c.respond(rec.Seq, protocol.WhoAreYou, c.auth)

	case protocol.ServerPing:
		c.respond(rec.Seq, protocol.ServerPing, payload.NewServerPingInfo())

	case protocol.GetClientInfo:
		c.respond(rec.Seq, protocol.GetClientInfo, c.clientInfo)

	case protocol.ServerSendChatMessage:
		c.handleChatPush(rec)

	default:
		c.log.Warn("Server sent unknown command", zap.String("command", rec.Command()))
	}
}

func (c *Conn) handleChatPush(rec *protocol.Record) {
	args := rec.Args()
	if len(args) == 0 {
		c.writeRecord(protocol.MakeResponse(rec.Seq, false, protocol.ServerSendChatMessage, "missing message"))
		return
	}

	var msg payload.ChatMessage

	if err := msg.Unmarshal([]byte(args[0])); err != nil {
		c.writeRecord(protocol.MakeResponse(rec.Seq, false, protocol.ServerSendChatMessage, err.Error()))
		return
	}

	select {
	case c.chatChan <- &msg:
	default:
		// Drop when the consumer lags; chat is not durable.
	}

	c.writeRecord(protocol.MakeResponse(rec.Seq, true, protocol.ServerSendChatMessage, args[0]))
}

type marshaler interface {
	Marshal() ([]byte, error)
}

func (c *Conn) respond(seq, command string, body marshaler) {
	data, err := body.Marshal()
	if err != nil {
		c.writeRecord(protocol.MakeResponse(seq, false, command, err.Error()))
		return
	}

	c.writeRecord(protocol.MakeResponse(seq, true, command, string(data)))
}

func (c *Conn) writeRecord(data []byte) {
	if _, err := c.conn.Write(data); err != nil {
		c.log.Warn("Failed to write to server", zap.Error(err))
	}
}

func (c *Conn) createResponseChan() (string, <-chan *protocol.Record) {
	seq := fmt.Sprintf("c%x", atomic.AddUint64(&c.requestID, 1))
	respChan := make(chan *protocol.Record, 1)

	c.respMu.Lock()
	c.respChans[seq] = respChan
	c.respMu.Unlock()

	return seq, respChan
}

func (c *Conn) sendToResponseChan(seq string, rec *protocol.Record) {
	// Removing the entry first makes this the only goroutine allowed to
	// close the channel, so a concurrent destroy cannot race the send.
	c.respMu.Lock()
	respChan, ok := c.respChans[seq]
	if ok {
		delete(c.respChans, seq)
	}
	c.respMu.Unlock()

	if !ok {
		return
	}

	respChan <- rec
	close(respChan)
}

func (c *Conn) destroyResponseChan(seq string) {
	c.respMu.Lock()
	respChan, ok := c.respChans[seq]
	if ok {
		close(respChan)
		delete(c.respChans, seq)
	}
	c.respMu.Unlock()
}

type unmarshaler interface {
	Unmarshal(data []byte) error
}

func unmarshalArg(rec *protocol.Record, into unmarshaler) error {
	args := rec.Args()
	if len(args) == 0 {
		return errors.New("Response is missing its payload argument")
	}

	return into.Unmarshal([]byte(args[0]))
}
