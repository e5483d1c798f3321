package transport

import (
	"time"

	"go.uber.org/zap"

	"github.com/luma/tvgate/directory"
)

// StatePublisher receives client online/offline notifications for the
// external bus state channel. A nil publisher disables publication.
type StatePublisher interface {
	PublishState(msg string) error
}

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on
	Port int

	// PingInterval is how often every connected client is pinged.
	PingInterval time.Duration

	// CacheInterval is how often the official chat channel list is
	// reread from the directory.
	CacheInterval time.Duration

	// BandwidthHost is returned verbatim by get_server_info.
	BandwidthHost string

	Directory directory.Directory

	State StatePublisher

	Log *zap.Logger
}
