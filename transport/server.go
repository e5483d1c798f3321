package transport

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/tvgate/payload"
	"github.com/luma/tvgate/protocol"
)

var ErrNotConnected = errors.New("No connection for that login")

type userDeviceKey struct {
	uid    payload.UserID
	device string
}

// Server owns the TCP listener, the connection tables, the chat fanout
// and the two repeating timers (client ping and chat channel cache
// refresh). Mutations of the shared tables are guarded by one mutex, so
// the bus listener goroutine may touch them as well.
type Server struct {
	opts Options

	ctx        context.Context
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	listener net.Listener

	mu           sync.Mutex
	activeConns  map[*Conn]struct{}
	byLogin      map[string]*Conn
	byUserDevice map[userDeviceKey]*Conn

	chat *ChatFanout

	// chatChannels holds a map[string]struct{} snapshot; reads are
	// lock-free, the cache timer swaps in whole replacements.
	chatChannels atomic.Value

	handlers map[string]handlerFunc

	log *zap.Logger
}

func NewServer(options Options) *Server {
	s := &Server{
		opts:         options,
		activeConns:  make(map[*Conn]struct{}),
		byLogin:      make(map[string]*Conn),
		byUserDevice: make(map[userDeviceKey]*Conn),
		log:          options.Log,
	}

	s.chat = newChatFanout(s, options.Log.Named("chat"))
	s.chatChannels.Store(map[string]struct{}{})
	s.handlers = s.makeHandlerTable()

	return s
}

// Chat exposes the per-stream fanout.
func (s *Server) Chat() *ChatFanout {
	return s.chat
}

// Start binds the listener and launches the accept loop and both
// timers. A bind failure is returned to the caller; the process treats
// it as fatal.
func (s *Server) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	s.ctx = ctx
	s.cancel = cancel

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))

	listener, err := reuseport.Listen("tcp", addr)
	if err != nil {
		cancel()
		return err
	}

	s.listener = listener

	s.log.Info("Listening for client devices", zap.String("addr", addr))

	// Fill the chat channel cache before the first client shows up.
	s.refreshChatChannels()

	s.stopWaiter.Add(3)

	go func() {
		defer s.stopWaiter.Done()
		s.acceptLoop()
	}()

	go func() {
		defer s.stopWaiter.Done()
		s.pingLoop()
	}()

	go func() {
		defer s.stopWaiter.Done()
		s.cacheLoop()
	}()

	return nil
}

// Close stops the timers, the accept loop and every live connection.
// There is no graceful drain of in-flight requests.
func (s *Server) Close() (err error) {
	s.log.Info("Stopping TCP server")
	s.cancel()

	if s.listener != nil {
		if lerr := s.listener.Close(); lerr != nil {
			err = multierr.Append(err, lerr)
		}
	}

	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.activeConns))
	for conn := range s.activeConns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}

	s.stopWaiter.Wait()

	return err
}

func (s *Server) acceptLoop() {
	for {
		sock, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				s.log.Info("Stopped accepting new connections")
			default:
				s.log.Error("Accept failed", zap.Error(err))
			}

			return
		}

		s.accepted(sock)
	}
}

// accepted allocates the session, starts its loops and opens the
// who_are_you handshake. Until that completes the dispatcher refuses
// everything except client_ping.
func (s *Server) accepted(sock net.Conn) {
	conn := newConn(s.ctx, sock, s, s.log.Named("conn"))

	s.mu.Lock()
	s.activeConns[conn] = struct{}{}
	s.mu.Unlock()

	conn.start()

	s.log.Info("Accepted connection",
		zap.String("conn", conn.ID()),
		zap.String("remote", sock.RemoteAddr().String()))

	s.sendWhoAreYou(conn)
}

func (s *Server) sendWhoAreYou(conn *Conn) {
	seq := conn.NextSeq()

	if err := conn.Pending().Register(seq, func(rec *protocol.Record) {
		s.handleWhoAreYouReply(conn, rec)
	}); err != nil {
		conn.log.Error("Failed to register who_are_you callback", zap.Error(err))
		conn.Close()

		return
	}

	if err := conn.Write(protocol.MakeRequest(seq, protocol.WhoAreYou)); err != nil {
		conn.log.Warn("Failed to send who_are_you", zap.Error(err))
		conn.Close()
	}
}

// unlink removes the connection from every index. Called exactly once,
// from Conn.Close. When the session was registered it also publishes
// the offline state and the leave-chat broadcast for whatever stream
// the client was watching.
func (s *Server) unlink(conn *Conn) {
	s.mu.Lock()

	delete(s.activeConns, conn)

	auth := conn.Auth()
	registered := auth != nil && !auth.IsAnonymous() && s.byLogin[auth.Login] == conn

	if registered {
		delete(s.byLogin, auth.Login)
		delete(s.byUserDevice, userDeviceKey{uid: conn.UID(), device: auth.DeviceID})
	}

	sid := s.chat.removeLocked(conn)

	s.mu.Unlock()

	// Any viewer leaving a stream is announced, anonymous ones
	// included; the offline state is published for registered
	// sessions only.
	if sid != "" && auth != nil {
		if err := s.chat.Broadcast(payload.MakeLeaveMessage(sid, auth.Login)); err != nil {
			s.log.Warn("Leave broadcast failed for some viewers", zap.Error(err))
		}
	}

	if !registered {
		return
	}

	s.publishUserState(payload.UserStateInfo{
		UID:      conn.UID(),
		DeviceID: auth.DeviceID,
		Online:   false,
	})
}

// register inserts a freshly authenticated session into the login
// tables. A live incumbent for the same (uid, device) wins; the
// newcomer is rejected and the incumbent is never evicted.
func (s *Server) register(conn *Conn, auth payload.AuthInfo, uid payload.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userDeviceKey{uid: uid, device: auth.DeviceID}

	if _, exists := s.byUserDevice[key]; exists {
		return errors.New("Double connection reject")
	}

	s.byLogin[auth.Login] = conn
	s.byUserDevice[key] = conn

	return nil
}

// FindByLogin locates the registered connection for a login. Anonymous
// sessions are not indexed and cannot be found.
func (s *Server) FindByLogin(login string) (*Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.byLogin[login]

	return conn, ok
}

// InjectRequest writes an externally-originated request to the named
// login's connection, keeping the caller's seq so the external system
// can correlate the reply itself. onReply fires at most once, with the
// client's response record; it is dropped if the connection closes
// first.
func (s *Server) InjectRequest(login, seq, command string, args []string, onReply ReplyCallback) error {
	conn, ok := s.FindByLogin(login)
	if !ok {
		return ErrNotConnected
	}

	if err := conn.Pending().Register(seq, onReply); err != nil {
		return err
	}

	if err := conn.Write(protocol.MakeRequest(seq, command, args...)); err != nil {
		conn.Pending().Take(seq)
		return err
	}

	return nil
}

// RequestClientInfo asks a client device for its hardware report. The
// answer is retained on the connection for the stats endpoint.
func (s *Server) RequestClientInfo(conn *Conn) error {
	seq := conn.NextSeq()

	if err := conn.Pending().Register(seq, func(rec *protocol.Record) {
		s.handleClientInfoReply(conn, rec)
	}); err != nil {
		return err
	}

	if err := conn.Write(protocol.MakeRequest(seq, protocol.GetClientInfo)); err != nil {
		conn.Pending().Take(seq)
		return err
	}

	return nil
}

func (s *Server) pingLoop() {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticker.C:
			s.pingClients()
		}
	}
}

func (s *Server) pingClients() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.activeConns))
	for conn := range s.activeConns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		s.pingClient(conn)

		// Registered devices that have not reported their hardware yet
		// are asked alongside the ping.
		if conn.Auth() != nil && !conn.IsAnonymous() && conn.ClientInfo() == nil {
			if err := s.RequestClientInfo(conn); err != nil {
				conn.log.Warn("Failed to request client info", zap.Error(err))
			}
		}
	}

	s.log.Info("Pinged clients", zap.Int("count", len(conns)))
}

func (s *Server) pingClient(conn *Conn) {
	seq := conn.NextSeq()

	if err := conn.Pending().Register(seq, func(rec *protocol.Record) {
		s.handleServerPingReply(conn, rec)
	}); err != nil {
		conn.log.Warn("Failed to register ping callback", zap.Error(err))
		return
	}

	if err := conn.Write(protocol.MakeRequest(seq, protocol.ServerPing)); err != nil {
		conn.log.Warn("Failed to ping client, closing connection", zap.Error(err))
		conn.Pending().Take(seq)
		conn.Close()
	}
}

func (s *Server) cacheLoop() {
	ticker := time.NewTicker(s.opts.CacheInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticker.C:
			s.refreshChatChannels()
		}
	}
}

func (s *Server) refreshChatChannels() {
	ctx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()

	channels, err := s.opts.Directory.GetChatChannels(ctx)
	if err != nil {
		s.log.Warn("Failed to reread chat channels, keeping previous snapshot", zap.Error(err))
		return
	}

	snapshot := make(map[string]struct{}, len(channels))
	for _, sid := range channels {
		snapshot[sid] = struct{}{}
	}

	s.chatChannels.Store(snapshot)
}

// isOfficialChannel consults the lock-free chat channel snapshot.
func (s *Server) isOfficialChannel(sid string) bool {
	snapshot := s.chatChannels.Load().(map[string]struct{})
	_, ok := snapshot[sid]

	return ok
}

func (s *Server) publishUserState(state payload.UserStateInfo) {
	if s.opts.State == nil {
		return
	}

	body, err := state.Marshal()
	if err != nil {
		s.log.Error("Failed to marshal user state", zap.Error(err))
		return
	}

	if err := s.opts.State.PublishState(string(body)); err != nil {
		s.log.Error("Failed to publish user state",
			zap.Int64("uid", int64(state.UID)),
			zap.Bool("online", state.Online),
			zap.Error(err))
	}
}

// Stats is a point-in-time snapshot for the admin HTTP endpoint.
type Stats struct {
	Connections int            `json:"connections"`
	Registered  int            `json:"registered"`
	Watchers    map[string]int `json:"watchers"`
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	watchers := make(map[string]int, len(s.chat.streams))
	for sid, viewers := range s.chat.streams {
		watchers[sid] = len(viewers)
	}

	return Stats{
		Connections: len(s.activeConns),
		Registered:  len(s.byLogin),
		Watchers:    watchers,
	}
}
