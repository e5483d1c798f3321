// Package directory abstracts the user store the inner TCP server
// authenticates against. Persistence of users and channels lives in a
// separate service; the server only ever sees this interface.
package directory

import (
	"context"
	"errors"

	"github.com/luma/tvgate/payload"
)

var (
	ErrUnknownUser   = errors.New("Unknown user")
	ErrBadCredential = errors.New("Credential rejected")
)

// Directory is the read side of the user store. Implementations must be
// safe for concurrent use: the server calls it from its dispatch path
// and from the cache refresh timer.
type Directory interface {
	// FindUser resolves the identity a client presented during the
	// who_are_you handshake. It does not check device membership; that
	// is the server's decision.
	FindUser(ctx context.Context, auth payload.AuthInfo) (payload.UserInfo, error)

	// GetChatChannels lists the official, chat-writable stream ids.
	GetChatChannels(ctx context.Context) ([]string, error)

	Close() error
}
