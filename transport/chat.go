package transport

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/tvgate/payload"
	"github.com/luma/tvgate/protocol"
)

// ChatFanout indexes connections by the stream they are watching and
// pushes chat and presence messages to every co-viewer of a stream.
//
// A connection appears under at most one stream id at a time; the index
// is maintained exclusively through SetCurrentStream and Remove.
type ChatFanout struct {
	// The embedded mutex comes from Server; fanout mutations and
	// broadcasts are serialised on it so consumers observe messages
	// in emission order.
	server *Server

	streams map[string]map[*Conn]struct{}

	log *zap.Logger
}

func newChatFanout(server *Server, log *zap.Logger) *ChatFanout {
	return &ChatFanout{
		server:  server,
		streams: make(map[string]map[*Conn]struct{}),
		log:     log,
	}
}

// SetCurrentStream moves conn to sid ("" for none) and emits the
// presence broadcasts the transition implies: enter when a stream is
// gained, leave when one is abandoned, both when switching.
func (f *ChatFanout) SetCurrentStream(conn *Conn, sid string) {
	f.server.mu.Lock()

	prev := conn.CurrentStream()
	if prev == sid {
		f.server.mu.Unlock()
		return
	}

	if prev != "" {
		if viewers, ok := f.streams[prev]; ok {
			delete(viewers, conn)

			if len(viewers) == 0 {
				delete(f.streams, prev)
			}
		}
	}

	if sid != "" {
		viewers, ok := f.streams[sid]
		if !ok {
			viewers = make(map[*Conn]struct{})
			f.streams[sid] = viewers
		}

		viewers[conn] = struct{}{}
	}

	conn.setCurrentStream(sid)

	login := conn.Login()

	var broadcasts []payload.ChatMessage

	if prev != "" {
		broadcasts = append(broadcasts, payload.MakeLeaveMessage(prev, login))
	}

	if sid != "" {
		broadcasts = append(broadcasts, payload.MakeEnterMessage(sid, login))
	}

	f.server.mu.Unlock()

	for _, msg := range broadcasts {
		if err := f.Broadcast(msg); err != nil {
			f.log.Warn("Presence broadcast failed for some viewers",
				zap.String("channelID", msg.ChannelID),
				zap.Error(err))
		}
	}
}

// Remove drops conn from the index without emitting a presence
// broadcast; the caller decides whether a leave message is due.
// Returns the stream the connection was on, "" for none.
func (f *ChatFanout) Remove(conn *Conn) string {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()

	return f.removeLocked(conn)
}

// removeLocked is Remove for callers already holding the server mutex.
func (f *ChatFanout) removeLocked(conn *Conn) string {
	sid := conn.CurrentStream()
	if sid == "" {
		return ""
	}

	if viewers, ok := f.streams[sid]; ok {
		delete(viewers, conn)

		if len(viewers) == 0 {
			delete(f.streams, sid)
		}
	}

	conn.setCurrentStream("")

	return sid
}

// Broadcast writes msg as a server_send_chat_message request to every
// connection watching msg.ChannelID. Per-connection write failures are
// logged and aggregated but never abort the fanout.
func (f *ChatFanout) Broadcast(msg payload.ChatMessage) (err error) {
	body, merr := msg.Marshal()
	if merr != nil {
		return merr
	}

	f.server.mu.Lock()

	viewers := make([]*Conn, 0, len(f.streams[msg.ChannelID]))
	for conn := range f.streams[msg.ChannelID] {
		viewers = append(viewers, conn)
	}

	for _, conn := range viewers {
		if werr := f.pushTo(conn, body); werr != nil {
			f.log.Warn("Failed to push chat message to viewer",
				zap.String("conn", conn.ID()),
				zap.String("channelID", msg.ChannelID),
				zap.Error(werr))
			err = multierr.Append(err, werr)
		}
	}

	f.server.mu.Unlock()

	return err
}

// CountWatchers returns how many connections are currently on sid.
func (f *ChatFanout) CountWatchers(sid string) int {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()

	return len(f.streams[sid])
}

func (f *ChatFanout) pushTo(conn *Conn, body []byte) error {
	seq := conn.NextSeq()

	// The client answers the push with a response we acknowledge and
	// otherwise ignore.
	rerr := conn.Pending().Register(seq, func(rec *protocol.Record) {
		_ = conn.Write(protocol.MakeApprove(rec.Seq, true, protocol.ServerSendChatMessage))
	})
	if rerr != nil {
		return rerr
	}

	if werr := conn.Write(protocol.MakeRequest(seq, protocol.ServerSendChatMessage, string(body))); werr != nil {
		conn.Pending().Take(seq)
		return werr
	}

	return nil
}
