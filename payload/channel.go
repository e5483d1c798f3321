package payload

import (
	"encoding/json"
)

// ChannelType classifies a stream for chat purposes.
type ChannelType string

const (
	// ChannelTypeOfficial marks chat-enabled streams operated by the
	// service.
	ChannelTypeOfficial ChannelType = "official"

	// ChannelTypePrivate marks streams whose chat is not available to
	// the requesting session.
	ChannelTypePrivate ChannelType = "private"
)

// ChannelInfo describes one watchable stream.
type ChannelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ChannelsInfo is the set of streams available to a user.
type ChannelsInfo []ChannelInfo

func (c ChannelsInfo) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

func (c *ChannelsInfo) Unmarshal(data []byte) error {
	return json.Unmarshal(data, c)
}

// RuntimeChannelInfo is the live view of one stream returned by
// get_runtime_channel_info: who may chat and how many are watching.
type RuntimeChannelInfo struct {
	ChannelID     string      `json:"channel_id"`
	WatchersCount int         `json:"watchers_count"`
	ChatEnabled   bool        `json:"chat_enabled"`
	ChatReadOnly  bool        `json:"chat_read_only"`
	Type          ChannelType `json:"type"`
}

func (r RuntimeChannelInfo) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func (r *RuntimeChannelInfo) Unmarshal(data []byte) error {
	return json.Unmarshal(data, r)
}

// ServerInfo answers get_server_info.
type ServerInfo struct {
	BandwidthHost string `json:"bandwidth_host"`
}

func (s ServerInfo) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

func (s *ServerInfo) Unmarshal(data []byte) error {
	return json.Unmarshal(data, s)
}
