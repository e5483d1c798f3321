package protocol

// Commands a client may request from the server.
const (
	ClientPing            = "client_ping"
	GetServerInfo         = "get_server_info"
	GetChannels           = "get_channels"
	GetRuntimeChannelInfo = "get_runtime_channel_info"
	ClientSendChatMessage = "client_send_chat_message"
)

// Commands the server may request from a client.
const (
	ServerPing            = "server_ping"
	WhoAreYou             = "who_are_you"
	GetClientInfo         = "get_client_info"
	ServerSendChatMessage = "server_send_chat_message"
)

// Status tokens carried by responses and approves.
const (
	StatusOk   = "ok"
	StatusFail = "fail"
)
