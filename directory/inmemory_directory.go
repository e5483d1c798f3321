package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/luma/tvgate/payload"
)

// InmemoryDirectory keeps the whole user store as a single JSON document
// and answers lookups with path queries against it. It exists for tests
// and single-node deployments; production swaps in a real directory
// service behind the same interface.
type InmemoryDirectory struct {
	mu     sync.RWMutex
	values []byte
}

func NewInmemoryDirectory() *InmemoryDirectory {
	return &InmemoryDirectory{
		values: []byte(`{"users":{},"chat_channels":[]}`),
	}
}

func (d *InmemoryDirectory) Close() error {
	return nil
}

// AddUser registers a user record. Devices are the device ids the user
// may connect from; channels are the streams returned by get_channels.
func (d *InmemoryDirectory) AddUser(
	login string,
	credential string,
	uid payload.UserID,
	devices []string,
	channels payload.ChannelsInfo,
) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := "users." + pathEscape(login)

	d.values, err = sjson.SetBytes(d.values, path+".credential", credential)
	if err != nil {
		return err
	}

	d.values, err = sjson.SetBytes(d.values, path+".uid", int64(uid))
	if err != nil {
		return err
	}

	d.values, err = sjson.SetBytes(d.values, path+".devices", devices)
	if err != nil {
		return err
	}

	d.values, err = sjson.SetBytes(d.values, path+".channels", channels)
	return err
}

// SetChatChannels replaces the official chat channel list.
func (d *InmemoryDirectory) SetChatChannels(channels []string) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.values, err = sjson.SetBytes(d.values, "chat_channels", channels)
	return err
}

func (d *InmemoryDirectory) FindUser(ctx context.Context, auth payload.AuthInfo) (payload.UserInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	path := "users." + pathEscape(auth.Login)

	user := gjson.GetBytes(d.values, path)
	if !user.Exists() {
		return payload.UserInfo{}, fmt.Errorf("Failed to find '%s': %w", auth.Login, ErrUnknownUser)
	}

	if user.Get("credential").String() != auth.Credential {
		return payload.UserInfo{}, fmt.Errorf("Failed to authenticate '%s': %w", auth.Login, ErrBadCredential)
	}

	info := payload.UserInfo{
		UID: payload.UserID(user.Get("uid").Int()),
	}

	for _, device := range user.Get("devices").Array() {
		info.Devices = append(info.Devices, device.String())
	}

	for _, channel := range user.Get("channels").Array() {
		info.Channels = append(info.Channels, payload.ChannelInfo{
			ID:   channel.Get("id").String(),
			Name: channel.Get("name").String(),
		})
	}

	return info, nil
}

func (d *InmemoryDirectory) GetChatChannels(ctx context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var channels []string

	for _, channel := range gjson.GetBytes(d.values, "chat_channels").Array() {
		channels = append(channels, channel.String())
	}

	return channels, nil
}

// pathEscape guards logins containing gjson path syntax.
func pathEscape(key string) string {
	out := make([]byte, 0, len(key))

	for i := 0; i < len(key); i++ {
		switch c := key[i]; c {
		case '.', '*', '?', '\\', '|', '#', '@':
			out = append(out, '\\', c)
		default:
			out = append(out, c)
		}
	}

	return string(out)
}

var _ Directory = (*InmemoryDirectory)(nil)
