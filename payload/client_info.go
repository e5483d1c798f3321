package payload

import (
	"encoding/json"
)

// ClientInfo describes the hardware a client device reports when the
// server asks get_client_info.
type ClientInfo struct {
	Login     string `json:"login"`
	OS        string `json:"os"`
	CPUBrand  string `json:"cpu_brand"`
	RAMTotal  int64  `json:"ram_total"`
	RAMFree   int64  `json:"ram_free"`
	Bandwidth int64  `json:"bandwidth"`
}

// IsValid reports whether the report can be attributed to a session.
func (c ClientInfo) IsValid() bool {
	return c.Login != ""
}

func (c ClientInfo) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

func (c *ClientInfo) Unmarshal(data []byte) error {
	return json.Unmarshal(data, c)
}
