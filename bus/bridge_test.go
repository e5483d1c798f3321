package bus_test

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/tvgate/bus"
	"github.com/luma/tvgate/protocol"
	"github.com/luma/tvgate/transport"
)

type fakeBus struct {
	mu       sync.Mutex
	out      []string
	inbound  chan []byte
	listened chan struct{}
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		inbound:  make(chan []byte, 16),
		listened: make(chan struct{}),
	}
}

func (f *fakeBus) Listen(ctx context.Context, handler bus.MessageHandler) error {
	close(f.listened)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-f.inbound:
			handler("cmd.in", msg)
		}
	}
}

func (f *fakeBus) PublishOut(msg string) error {
	f.mu.Lock()
	f.out = append(f.out, msg)
	f.mu.Unlock()

	return nil
}

func (f *fakeBus) PublishState(msg string) error { return nil }

func (f *fakeBus) Close() error { return nil }

func (f *fakeBus) Out() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.out...)
}

type injectCall struct {
	login   string
	seq     string
	command string
	args    []string
}

// fakeInjector records injections and optionally answers them at once.
type fakeInjector struct {
	mu    sync.Mutex
	calls []injectCall

	err   error
	reply *protocol.Record
}

func (f *fakeInjector) InjectRequest(login, seq, command string, args []string,
	onReply transport.ReplyCallback) error {
	f.mu.Lock()
	f.calls = append(f.calls, injectCall{login: login, seq: seq, command: command, args: args})
	f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	if f.reply != nil {
		onReply(f.reply)
	}

	return nil
}

func (f *fakeInjector) Calls() []injectCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]injectCall(nil), f.calls...)
}

var _ = Describe("bus / Bridge", func() {
	var (
		fb       *fakeBus
		injector *fakeInjector
		bridge   *bus.Bridge
	)

	BeforeEach(func() {
		fb = newFakeBus()
		injector = &fakeInjector{}
		bridge = bus.NewBridge(fb, injector, zap.NewNop())
	})

	Describe("HandleMessage()", func() {
		It("injects the command keeping the external seq", func() {
			bridge.HandleMessage("cmd.in", []byte("bob abcd get_channels"))

			Expect(injector.Calls()).To(Equal([]injectCall{
				{login: "bob", seq: "abcd", command: "get_channels", args: []string{}},
			}))
		})

		It("splits quoted arguments shell style", func() {
			bridge.HandleMessage("cmd.in",
				[]byte(`alice x1 server_send_chat_message "hello there" plain`))

			Expect(injector.Calls()).To(Equal([]injectCall{
				{
					login:   "alice",
					seq:     "x1",
					command: "server_send_chat_message",
					args:    []string{"hello there", "plain"},
				},
			}))
		})

		It("publishes the client reply verbatim after the seq", func() {
			injector.reply = &protocol.Record{
				Kind: protocol.KindResponse,
				Seq:  "abcd",
				Argv: []string{"ok", "get_channels", `[{"id":"S1"}]`},
			}

			bridge.HandleMessage("cmd.in", []byte("bob abcd get_channels"))

			Expect(fb.Out()).To(Equal([]string{`abcd ok get_channels [{"id":"S1"}]`}))
		})

		It("publishes not-connected for unknown logins", func() {
			injector.err = transport.ErrNotConnected

			bridge.HandleMessage("cmd.in", []byte("ghost abcd get_channels"))

			Expect(fb.Out()).To(Equal([]string{"fail abcd get_channels not-connected"}))
		})

		It("publishes duplicate-seq when the seq is already in flight", func() {
			injector.err = transport.ErrDuplicateSeq

			bridge.HandleMessage("cmd.in", []byte("bob abcd get_channels"))

			Expect(fb.Out()).To(Equal([]string{"fail abcd get_channels duplicate-seq"}))
		})

		It("publishes not-handled for any other injection failure", func() {
			injector.err = context.DeadlineExceeded

			bridge.HandleMessage("cmd.in", []byte("bob abcd get_channels"))

			Expect(fb.Out()).To(Equal([]string{"fail abcd get_channels not-handled"}))
		})

		It("flags a message with no seq and command", func() {
			bridge.HandleMessage("cmd.in", []byte("ping"))

			Expect(fb.Out()).To(Equal([]string{"UNKNOWN COMMAND: ping"}))
			Expect(injector.Calls()).To(BeEmpty())
		})

		It("flags a message with a seq but no command", func() {
			bridge.HandleMessage("cmd.in", []byte("bob abcd"))

			Expect(fb.Out()).To(Equal([]string{"PROBLEM EXTRACTING SEQUENCE: abcd"}))
			Expect(injector.Calls()).To(BeEmpty())
		})

		It("flags a body with unbalanced quotes", func() {
			bridge.HandleMessage("cmd.in", []byte(`bob abcd get_channels "oops`))

			Expect(fb.Out()).To(Equal([]string{`UNKNOWN COMMAND: bob abcd get_channels "oops`}))
			Expect(injector.Calls()).To(BeEmpty())
		})
	})

	Describe("Start()", func() {
		It("pumps inbound messages until the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())

			bridge.Start(ctx)
			Eventually(fb.listened).Should(BeClosed())

			fb.inbound <- []byte("bob abcd get_channels")

			Eventually(func() []injectCall {
				return injector.Calls()
			}).Should(HaveLen(1))

			cancel()
			bridge.Wait()
		})
	})
})
