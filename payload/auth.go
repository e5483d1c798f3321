// Package payload defines the JSON payload types carried as single
// arguments on tvgate protocol records.
package payload

import (
	"encoding/json"
)

// AuthInfo is the client's self-identification, delivered in its
// who_are_you response.
type AuthInfo struct {
	Login      string `json:"login"`
	DeviceID   string `json:"device_id"`
	Credential string `json:"credential"`
}

// Anonymous is the sentinel identity of an unauthenticated but accepted
// session. Anonymous sessions are never entered into the server's login
// registries.
var Anonymous = AuthInfo{
	Login:      "anonymous",
	DeviceID:   "anonymous",
	Credential: "anonymous",
}

// IsValid reports whether every identification field is present.
func (a AuthInfo) IsValid() bool {
	return a.Login != "" && a.DeviceID != "" && a.Credential != ""
}

// IsAnonymous reports whether this is the anonymous sentinel identity.
func (a AuthInfo) IsAnonymous() bool {
	return a == Anonymous
}

func (a AuthInfo) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

func (a *AuthInfo) Unmarshal(data []byte) error {
	return json.Unmarshal(data, a)
}

// UserID identifies a registered user in the directory.
type UserID int64

// UserInfo is what the user directory knows about a registered user.
type UserInfo struct {
	UID      UserID       `json:"uid"`
	Devices  []string     `json:"devices"`
	Channels ChannelsInfo `json:"channels"`
}

// HasDevice reports whether the given device belongs to the user.
func (u UserInfo) HasDevice(deviceID string) bool {
	for _, d := range u.Devices {
		if d == deviceID {
			return true
		}
	}

	return false
}

func (u UserInfo) Marshal() ([]byte, error) {
	return json.Marshal(u)
}

func (u *UserInfo) Unmarshal(data []byte) error {
	return json.Unmarshal(data, u)
}

// UserStateInfo is published on the bus state channel whenever a
// registered user's device connects or disconnects.
type UserStateInfo struct {
	UID      UserID `json:"uid"`
	DeviceID string `json:"device_id"`
	Online   bool   `json:"online"`
}

func (s UserStateInfo) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

func (s *UserStateInfo) Unmarshal(data []byte) error {
	return json.Unmarshal(data, s)
}
