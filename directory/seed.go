package directory

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"

	"github.com/luma/tvgate/payload"
)

// SeedFromFile loads users and chat channels from a JSON document into
// an in-memory directory. The expected shape:
//
//	{
//	  "users": [
//	    {"login": "...", "credential": "...", "uid": 1,
//	     "devices": ["..."],
//	     "channels": [{"id": "...", "name": "..."}]}
//	  ],
//	  "chat_channels": ["..."]
//	}
func SeedFromFile(dir *InmemoryDirectory, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if !gjson.ValidBytes(data) {
		return fmt.Errorf("Users file '%s' is not valid JSON", path)
	}

	doc := gjson.ParseBytes(data)

	for _, user := range doc.Get("users").Array() {
		var devices []string
		for _, device := range user.Get("devices").Array() {
			devices = append(devices, device.String())
		}

		var channels payload.ChannelsInfo
		for _, channel := range user.Get("channels").Array() {
			channels = append(channels, payload.ChannelInfo{
				ID:   channel.Get("id").String(),
				Name: channel.Get("name").String(),
			})
		}

		err := dir.AddUser(
			user.Get("login").String(),
			user.Get("credential").String(),
			payload.UserID(user.Get("uid").Int()),
			devices,
			channels,
		)
		if err != nil {
			return err
		}
	}

	var chatChannels []string
	for _, channel := range doc.Get("chat_channels").Array() {
		chatChannels = append(chatChannels, channel.String())
	}

	if len(chatChannels) > 0 {
		return dir.SetChatChannels(chatChannels)
	}

	return nil
}
