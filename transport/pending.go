package transport

import (
	"errors"
	"sync"

	"github.com/luma/tvgate/protocol"
)

var ErrDuplicateSeq = errors.New("A callback is already registered for this seq")

// ReplyCallback receives the response record matching an outstanding
// request.
type ReplyCallback func(rec *protocol.Record)

// PendingRegistry tracks the requests a connection has in flight and
// the continuation to run when each response arrives. Entries are
// consumed on first match; on connection close they are dropped without
// being invoked.
type PendingRegistry struct {
	mu        sync.Mutex
	cancelled bool
	callbacks map[string]ReplyCallback
}

func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{
		callbacks: make(map[string]ReplyCallback),
	}
}

// Register installs a callback for seq. Seq uniqueness is only required
// within one connection's in-flight window, so a duplicate here means a
// caller bug or a hostile bus message.
func (p *PendingRegistry) Register(seq string, cb ReplyCallback) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancelled {
		// The connection is closing; the callback would never fire.
		return nil
	}

	if _, exists := p.callbacks[seq]; exists {
		return ErrDuplicateSeq
	}

	p.callbacks[seq] = cb

	return nil
}

// Take atomically removes and returns the callback for seq.
func (p *PendingRegistry) Take(seq string) (ReplyCallback, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cb, ok := p.callbacks[seq]
	if ok {
		delete(p.callbacks, seq)
	}

	return cb, ok
}

// CancelAll drops every outstanding callback without invoking it and
// refuses further registrations. Bus clients waiting on replies are
// expected to time out on their side.
func (p *PendingRegistry) CancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancelled = true
	p.callbacks = make(map[string]ReplyCallback)
}

// Len returns the number of outstanding callbacks.
func (p *PendingRegistry) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.callbacks)
}
