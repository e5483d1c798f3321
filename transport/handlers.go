package transport

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/luma/tvgate/payload"
	"github.com/luma/tvgate/protocol"
)

type handlerFunc func(conn *Conn, seq string, args []string)

func (s *Server) makeHandlerTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		protocol.ClientPing:            s.handleClientPing,
		protocol.GetServerInfo:         s.handleGetServerInfo,
		protocol.GetChannels:           s.handleGetChannels,
		protocol.GetRuntimeChannelInfo: s.handleGetRuntimeChannelInfo,
		protocol.ClientSendChatMessage: s.handleClientSendChatMessage,
	}
}

// dispatch routes one decoded record. Requests go through the handler
// table, responses through the pending registry, approves are terminal
// acknowledgements and need no reply.
func (s *Server) dispatch(conn *Conn, rec *protocol.Record) {
	switch rec.Kind {
	case protocol.KindRequest:
		s.dispatchRequest(conn, rec)

	case protocol.KindResponse:
		cb, ok := conn.Pending().Take(rec.Seq)
		if !ok {
			conn.log.Warn("Response with no pending request, dropping",
				zap.String("seq", rec.Seq),
				zap.String("command", rec.Command()))
			return
		}

		cb(rec)

	case protocol.KindApprove:
		// Terminal; the exchange is complete.

	default:
		conn.log.Warn("Record with unknown kind, dropping",
			zap.String("seq", rec.Seq))
	}
}

func (s *Server) dispatchRequest(conn *Conn, rec *protocol.Record) {
	command := rec.Command()

	handler, ok := s.handlers[command]
	if !ok {
		conn.log.Warn("UNKNOWN COMMAND", zap.String("command", command))
		return
	}

	// Before who_are_you completes the only request honoured is ping.
	if conn.Auth() == nil && command != protocol.ClientPing {
		s.failAndClose(conn, rec.Seq, command, "not authenticated")
		return
	}

	handler(conn, rec.Seq, rec.Args())
}

// failAndClose emits the fail response for a client request and drops
// the connection, per the error handling policy for payload and
// authorization failures.
func (s *Server) failAndClose(conn *Conn, seq, command, reason string) {
	_ = conn.Write(protocol.MakeResponse(seq, false, command, reason))
	conn.Close()
}

func (s *Server) handleClientPing(conn *Conn, seq string, args []string) {
	body, err := payload.NewClientPingInfo().Marshal()
	if err != nil {
		s.failAndClose(conn, seq, protocol.ClientPing, err.Error())
		return
	}

	if err := conn.Write(protocol.MakeResponse(seq, true, protocol.ClientPing, string(body))); err != nil {
		conn.log.Warn("Failed to answer client_ping", zap.Error(err))
	}
}

func (s *Server) handleGetServerInfo(conn *Conn, seq string, args []string) {
	// Registered sessions are re-validated against the directory so a
	// user deleted mid-session stops getting answers.
	if auth := conn.Auth(); auth != nil && !auth.IsAnonymous() {
		if _, err := s.findUser(*auth); err != nil {
			s.failAndClose(conn, seq, protocol.GetServerInfo, err.Error())
			return
		}
	}

	body, err := payload.ServerInfo{BandwidthHost: s.opts.BandwidthHost}.Marshal()
	if err != nil {
		s.failAndClose(conn, seq, protocol.GetServerInfo, err.Error())
		return
	}

	if err := conn.Write(protocol.MakeResponse(seq, true, protocol.GetServerInfo, string(body))); err != nil {
		conn.log.Warn("Failed to answer get_server_info", zap.Error(err))
	}
}

func (s *Server) handleGetChannels(conn *Conn, seq string, args []string) {
	auth := conn.Auth()

	if auth.IsAnonymous() {
		s.failAndClose(conn, seq, protocol.GetChannels, "anonymous sessions have no channels")
		return
	}

	user, err := s.findUser(*auth)
	if err != nil {
		s.failAndClose(conn, seq, protocol.GetChannels, err.Error())
		return
	}

	body, err := user.Channels.Marshal()
	if err != nil {
		s.failAndClose(conn, seq, protocol.GetChannels, err.Error())
		return
	}

	if err := conn.Write(protocol.MakeResponse(seq, true, protocol.GetChannels, string(body))); err != nil {
		conn.log.Warn("Failed to answer get_channels", zap.Error(err))
	}
}

func (s *Server) handleGetRuntimeChannelInfo(conn *Conn, seq string, args []string) {
	if len(args) == 0 || args[0] == "" {
		s.failAndClose(conn, seq, protocol.GetRuntimeChannelInfo, "missing stream id")
		return
	}

	sid := args[0]

	info := payload.RuntimeChannelInfo{ChannelID: sid}

	switch {
	case conn.IsAnonymous():
		info.Type = payload.ChannelTypeOfficial
		info.ChatEnabled = true
		info.ChatReadOnly = true

	case s.isOfficialChannel(sid):
		info.Type = payload.ChannelTypeOfficial
		info.ChatEnabled = true
		info.ChatReadOnly = false

	default:
		info.Type = payload.ChannelTypePrivate
		info.ChatEnabled = false
		info.ChatReadOnly = true
	}

	info.WatchersCount = s.chat.CountWatchers(sid)
	if conn.CurrentStream() != sid {
		// The requester is about to join the viewer set.
		info.WatchersCount++
	}

	body, err := info.Marshal()
	if err != nil {
		s.failAndClose(conn, seq, protocol.GetRuntimeChannelInfo, err.Error())
		return
	}

	// The ok reply goes out before the presence broadcasts so the
	// requester never sees its own enter message first.
	if err := conn.Write(protocol.MakeResponse(seq, true, protocol.GetRuntimeChannelInfo, string(body))); err != nil {
		conn.log.Warn("Failed to answer get_runtime_channel_info", zap.Error(err))
	}

	s.chat.SetCurrentStream(conn, sid)
}

func (s *Server) handleClientSendChatMessage(conn *Conn, seq string, args []string) {
	if len(args) == 0 {
		s.failAndClose(conn, seq, protocol.ClientSendChatMessage, "missing message")
		return
	}

	var msg payload.ChatMessage

	if err := msg.Unmarshal([]byte(args[0])); err != nil {
		s.failAndClose(conn, seq, protocol.ClientSendChatMessage, err.Error())
		return
	}

	if !msg.IsValid() {
		s.failAndClose(conn, seq, protocol.ClientSendChatMessage, "invalid chat message")
		return
	}

	if conn.IsAnonymous() {
		s.failAndClose(conn, seq, protocol.ClientSendChatMessage, "chat is read only")
		return
	}

	msg.Stamp()

	body, err := msg.Marshal()
	if err != nil {
		s.failAndClose(conn, seq, protocol.ClientSendChatMessage, err.Error())
		return
	}

	if err := conn.Write(protocol.MakeResponse(seq, true, protocol.ClientSendChatMessage, string(body))); err != nil {
		conn.log.Warn("Failed to answer client_send_chat_message", zap.Error(err))
	}

	if err := s.chat.Broadcast(msg); err != nil {
		conn.log.Warn("Chat broadcast failed for some viewers",
			zap.String("channelID", msg.ChannelID),
			zap.Error(err))
	}
}

// handleWhoAreYouReply is the authentication state machine, run on the
// client's who_are_you response. Every rejection sends an approve fail
// and closes the connection; the incumbent of a duplicate (uid, device)
// pair is never evicted. Failures have no side effects on the
// directory.
func (s *Server) handleWhoAreYouReply(conn *Conn, rec *protocol.Record) {
	if !rec.Ok() {
		conn.log.Warn("Client failed who_are_you, closing connection",
			zap.Strings("argv", rec.Argv))
		conn.Close()

		return
	}

	args := rec.Args()
	if len(args) == 0 {
		s.approveFailAndClose(conn, rec.Seq, protocol.WhoAreYou, "invalid args")
		return
	}

	var auth payload.AuthInfo

	if err := auth.Unmarshal([]byte(args[0])); err != nil {
		s.approveFailAndClose(conn, rec.Seq, protocol.WhoAreYou, "invalid args")
		return
	}

	if !auth.IsValid() {
		s.approveFailAndClose(conn, rec.Seq, protocol.WhoAreYou, "invalid user")
		return
	}

	if auth.IsAnonymous() {
		// Accepted but never entered into the login registries and
		// never announced on the state channel.
		if err := conn.setAuth(auth, 0); err != nil {
			s.approveFailAndClose(conn, rec.Seq, protocol.WhoAreYou, err.Error())
			return
		}

		if err := conn.Write(protocol.MakeApprove(rec.Seq, true, protocol.WhoAreYou)); err != nil {
			conn.log.Warn("Failed to approve who_are_you", zap.Error(err))
			conn.Close()
		}

		return
	}

	user, err := s.findUser(auth)
	if err != nil {
		s.approveFailAndClose(conn, rec.Seq, protocol.WhoAreYou, err.Error())
		return
	}

	if !user.HasDevice(auth.DeviceID) {
		s.approveFailAndClose(conn, rec.Seq, protocol.WhoAreYou, "Unknown device reject")
		return
	}

	if err := conn.setAuth(auth, user.UID); err != nil {
		s.approveFailAndClose(conn, rec.Seq, protocol.WhoAreYou, err.Error())
		return
	}

	if err := s.register(conn, auth, user.UID); err != nil {
		s.approveFailAndClose(conn, rec.Seq, protocol.WhoAreYou, err.Error())
		return
	}

	if err := conn.Write(protocol.MakeApprove(rec.Seq, true, protocol.WhoAreYou)); err != nil {
		conn.log.Warn("Failed to approve who_are_you", zap.Error(err))
		conn.Close()

		return
	}

	conn.log.Info("Client registered",
		zap.String("login", auth.Login),
		zap.String("device", auth.DeviceID),
		zap.Int64("uid", int64(user.UID)))

	s.publishUserState(payload.UserStateInfo{
		UID:      user.UID,
		DeviceID: auth.DeviceID,
		Online:   true,
	})
}

// handleServerPingReply acknowledges a client's pong. A malformed
// payload is approved as a failure and the connection dropped.
func (s *Server) handleServerPingReply(conn *Conn, rec *protocol.Record) {
	if !rec.Ok() {
		conn.log.Warn("Client failed server_ping, closing connection")
		conn.Close()

		return
	}

	args := rec.Args()
	if len(args) == 0 {
		s.approveFailAndClose(conn, rec.Seq, protocol.ServerPing, "invalid args")
		return
	}

	var pong payload.ServerPingInfo

	if err := pong.Unmarshal([]byte(args[0])); err != nil {
		s.approveFailAndClose(conn, rec.Seq, protocol.ServerPing, "invalid args")
		return
	}

	if err := conn.Write(protocol.MakeApprove(rec.Seq, true, protocol.ServerPing)); err != nil {
		conn.log.Warn("Failed to approve server_ping", zap.Error(err))
		conn.Close()
	}
}

func (s *Server) handleClientInfoReply(conn *Conn, rec *protocol.Record) {
	if !rec.Ok() {
		conn.log.Warn("Client failed get_client_info, closing connection")
		conn.Close()

		return
	}

	args := rec.Args()
	if len(args) == 0 {
		s.approveFailAndClose(conn, rec.Seq, protocol.GetClientInfo, "invalid args")
		return
	}

	var info payload.ClientInfo

	if err := info.Unmarshal([]byte(args[0])); err != nil || !info.IsValid() {
		s.approveFailAndClose(conn, rec.Seq, protocol.GetClientInfo, "invalid args")
		return
	}

	conn.setClientInfo(info)

	if err := conn.Write(protocol.MakeApprove(rec.Seq, true, protocol.GetClientInfo)); err != nil {
		conn.log.Warn("Failed to approve get_client_info", zap.Error(err))
		conn.Close()
	}
}

func (s *Server) approveFailAndClose(conn *Conn, seq, command, reason string) {
	_ = conn.Write(protocol.MakeApprove(seq, false, command, reason))
	conn.Close()
}

func (s *Server) findUser(auth payload.AuthInfo) (payload.UserInfo, error) {
	ctx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()

	return s.opts.Directory.FindUser(ctx, auth)
}
