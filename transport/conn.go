package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luma/tvgate/payload"
	"github.com/luma/tvgate/protocol"
)

const (
	// MaxWriteQueue bounds the bytes waiting in a connection's write
	// queue. A client that stops draining its socket gets closed rather
	// than ballooning server memory.
	MaxWriteQueue = 1 << 20

	writeQueueSlots = 255
	readBufferSize  = 4096
)

var (
	ErrConnClosed     = errors.New("Connection is closed")
	ErrWriteQueueFull = errors.New("Connection write queue overflowed")
)

// Conn is one client device's session: the socket, its write queue, the
// framer for inbound bytes, the identity established by who_are_you and
// the stream the client is currently watching.
type Conn struct {
	id string

	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup
	closeOnce  sync.Once

	sock   net.Conn
	server *Server

	writeQueue  chan []byte
	queuedBytes int64

	pending    *PendingRegistry
	seqCounter uint64

	mu            sync.Mutex
	auth          *payload.AuthInfo
	uid           payload.UserID
	currentStream string
	clientInfo    *payload.ClientInfo

	log *zap.Logger
}

func newConn(parentCtx context.Context, sock net.Conn, server *Server, log *zap.Logger) *Conn {
	ctx, cancel := context.WithCancel(parentCtx)

	id := uuid.NewString()

	return &Conn{
		id:         id,
		ctx:        ctx,
		cancel:     cancel,
		sock:       sock,
		server:     server,
		writeQueue: make(chan []byte, writeQueueSlots),
		pending:    NewPendingRegistry(),
		log:        log.With(zap.String("conn", id)),
	}
}

// ID is a process-local identifier used in logs and stats.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr reports the peer address of the underlying socket.
func (c *Conn) RemoteAddr() net.Addr {
	return c.sock.RemoteAddr()
}

// NextSeq mints a fresh sequence token for a server-originated request.
func (c *Conn) NextSeq() string {
	return fmt.Sprintf("%x", atomic.AddUint64(&c.seqCounter, 1))
}

// Pending exposes the registry of in-flight requests on this connection.
func (c *Conn) Pending() *PendingRegistry {
	return c.pending
}

// Write enqueues one encoded record for the write loop. It fails once
// the connection is closed or the queue limit is breached; a breach
// closes the connection.
func (c *Conn) Write(data []byte) error {
	if !c.isRunning() {
		return ErrConnClosed
	}

	if atomic.AddInt64(&c.queuedBytes, int64(len(data))) > MaxWriteQueue {
		c.log.Warn("Write queue overflow, closing connection",
			zap.Int64("queuedBytes", atomic.LoadInt64(&c.queuedBytes)))

		// Callers may hold the server mutex (broadcast fanout), and
		// Close needs it to unlink, so the close must be asynchronous.
		go c.Close()

		return ErrWriteQueueFull
	}

	select {
	case c.writeQueue <- data:
		return nil

	default:
		c.log.Warn("Write queue slots exhausted, closing connection")
		go c.Close()

		return ErrWriteQueueFull
	}
}

// Close is idempotent. It tears down the session, drops every pending
// callback without invoking it and unlinks the connection from the
// server's tables, publishing the offline state and the leave-chat
// broadcast when the session was registered.
//
// The socket itself is closed by the write loop once it has flushed
// whatever was queued before Close; failure replies sent just before a
// close still reach the client.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.cancel()

		// Unblock a read in progress; the read loop checks the context
		// and exits.
		_ = c.sock.SetReadDeadline(time.Now())

		c.pending.CancelAll()
		c.server.unlink(c)
	})
}

func (c *Conn) start() {
	c.loopWaiter.Add(2)

	go func() {
		defer c.loopWaiter.Done()
		c.readLoop()
	}()

	go func() {
		defer c.loopWaiter.Done()
		c.writeLoop()
	}()
}

func (c *Conn) readLoop() {
	defer c.Close()

	framer := &protocol.Framer{}
	buf := make([]byte, readBufferSize)

	for c.isRunning() {
		n, err := c.sock.Read(buf)
		if n > 0 {
			records, ferr := framer.Feed(buf[:n])

			for _, record := range records {
				c.server.dispatch(c, record)
			}

			if ferr != nil {
				c.log.Warn("Dropping connection on framing error", zap.Error(ferr))
				return
			}
		}

		if err != nil {
			if c.isRunning() {
				c.log.Debug("Read loop exiting", zap.Error(err))
			}

			return
		}
	}
}

func (c *Conn) writeLoop() {
	defer func() {
		if err := c.sock.Close(); err != nil {
			c.log.Debug("Socket did not close cleanly", zap.Error(err))
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.flush()
			return

		case data := <-c.writeQueue:
			atomic.AddInt64(&c.queuedBytes, -int64(len(data)))

			if _, err := c.sock.Write(data); err != nil {
				c.log.Warn("Failed to write to socket, closing connection", zap.Error(err))
				c.Close()

				return
			}
		}
	}
}

// flush drains records that were queued before Close, under a short
// deadline so a dead peer cannot stall the teardown.
func (c *Conn) flush() {
	_ = c.sock.SetWriteDeadline(time.Now().Add(time.Second))

	for {
		select {
		case data := <-c.writeQueue:
			atomic.AddInt64(&c.queuedBytes, -int64(len(data)))

			if _, err := c.sock.Write(data); err != nil {
				return
			}

		default:
			return
		}
	}
}

// setAuth freezes the session identity. It errors if the handshake
// already completed; auth is immutable for the connection's lifetime.
func (c *Conn) setAuth(auth payload.AuthInfo, uid payload.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.auth != nil {
		return errors.New("Connection identity is already set")
	}

	c.auth = &auth
	c.uid = uid

	return nil
}

// Auth returns the identity established by who_are_you, or nil before
// the handshake completes.
func (c *Conn) Auth() *payload.AuthInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.auth
}

// IsAnonymous reports whether the session authenticated with the
// anonymous sentinel identity.
func (c *Conn) IsAnonymous() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.auth != nil && c.auth.IsAnonymous()
}

// UID returns the directory user id of a registered session.
func (c *Conn) UID() payload.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.uid
}

// Login returns the authenticated login, or "" before the handshake.
func (c *Conn) Login() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.auth == nil {
		return ""
	}

	return c.auth.Login
}

// CurrentStream returns the stream the client is watching, "" for none.
func (c *Conn) CurrentStream() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.currentStream
}

func (c *Conn) setCurrentStream(sid string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currentStream = sid
}

// ClientInfo returns the last hardware report the client answered, or
// nil if get_client_info was never exchanged.
func (c *Conn) ClientInfo() *payload.ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.clientInfo
}

func (c *Conn) setClientInfo(info payload.ClientInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clientInfo = &info
}

// isRunning returns true if Close has not been called
func (c *Conn) isRunning() bool {
	select {
	case <-c.ctx.Done():
		return false

	default:
		return true
	}
}
