package payload

import (
	"encoding/json"
	"time"
)

// ClientPingInfo is produced by the server when answering client_ping.
type ClientPingInfo struct {
	Timestamp int64 `json:"timestamp"`
}

// NewClientPingInfo stamps a ping payload with the current time.
func NewClientPingInfo() ClientPingInfo {
	return ClientPingInfo{Timestamp: time.Now().UnixMilli()}
}

func (p ClientPingInfo) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func (p *ClientPingInfo) Unmarshal(data []byte) error {
	return json.Unmarshal(data, p)
}

// ServerPingInfo is produced by a client when answering server_ping.
type ServerPingInfo struct {
	Timestamp int64 `json:"timestamp"`
}

// NewServerPingInfo stamps a pong payload with the current time.
func NewServerPingInfo() ServerPingInfo {
	return ServerPingInfo{Timestamp: time.Now().UnixMilli()}
}

func (p ServerPingInfo) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func (p *ServerPingInfo) Unmarshal(data []byte) error {
	return json.Unmarshal(data, p)
}
