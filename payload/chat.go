package payload

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// ChatMessageType distinguishes user text from presence notifications.
type ChatMessageType string

const (
	ChatMessageText  ChatMessageType = "message"
	ChatMessageEnter ChatMessageType = "enter"
	ChatMessageLeave ChatMessageType = "leave"
)

// ChatMessage is a single chat event on a stream. Presence messages
// (enter/leave) are synthesised by the server; text messages originate
// from clients.
type ChatMessage struct {
	ID        string          `json:"id"`
	ChannelID string          `json:"channel_id"`
	Login     string          `json:"login"`
	Text      string          `json:"text,omitempty"`
	Type      ChatMessageType `json:"type"`
	Timestamp int64           `json:"timestamp"`
}

// IsValid reports whether the message can be routed at all.
func (m ChatMessage) IsValid() bool {
	return m.ChannelID != "" && m.Login != ""
}

// Stamp fills in the generated fields a client is allowed to omit.
func (m *ChatMessage) Stamp() {
	if m.ID == "" {
		m.ID = ulid.Make().String()
	}

	if m.Type == "" {
		m.Type = ChatMessageText
	}

	if m.Timestamp == 0 {
		m.Timestamp = time.Now().UnixMilli()
	}
}

func (m ChatMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

func (m *ChatMessage) Unmarshal(data []byte) error {
	return json.Unmarshal(data, m)
}

// MakeEnterMessage builds the presence event broadcast when a viewer
// starts watching a stream.
func MakeEnterMessage(channelID, login string) ChatMessage {
	return ChatMessage{
		ID:        ulid.Make().String(),
		ChannelID: channelID,
		Login:     login,
		Type:      ChatMessageEnter,
		Timestamp: time.Now().UnixMilli(),
	}
}

// MakeLeaveMessage builds the presence event broadcast when a viewer
// stops watching a stream.
func MakeLeaveMessage(channelID, login string) ChatMessage {
	return ChatMessage{
		ID:        ulid.Make().String(),
		ChannelID: channelID,
		Login:     login,
		Type:      ChatMessageLeave,
		Timestamp: time.Now().UnixMilli(),
	}
}
