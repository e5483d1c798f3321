package client_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/tvgate/client"
	"github.com/luma/tvgate/directory"
	"github.com/luma/tvgate/payload"
	"github.com/luma/tvgate/transport"
)

var portCounter int32 = 7700

func nextPort() int {
	return int(atomic.AddInt32(&portCounter, 1))
}

type nopState struct{}

func (nopState) PublishState(msg string) error { return nil }

var _ = Describe("client / Conn", func() {
	var (
		server *transport.Server
		port   int
		cancel context.CancelFunc
	)

	aliceAuth := payload.AuthInfo{Login: "alice", DeviceID: "d1", Credential: "pw"}
	bobAuth := payload.AuthInfo{Login: "bob", DeviceID: "d2", Credential: "pw"}

	BeforeEach(func() {
		dir := directory.NewInmemoryDirectory()
		Expect(dir.AddUser("alice", "pw", 7, []string{"d1"}, payload.ChannelsInfo{
			{ID: "S1", Name: "stream one"},
		})).To(Succeed())
		Expect(dir.AddUser("bob", "pw", 8, []string{"d2"}, nil)).To(Succeed())
		Expect(dir.SetChatChannels([]string{"S1"})).To(Succeed())

		port = nextPort()

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())

		server = transport.NewServer(transport.Options{
			Host:          "127.0.0.1",
			Port:          port,
			PingInterval:  time.Hour,
			CacheInterval: time.Hour,
			BandwidthHost: "bw.example.com:8080",
			Directory:     dir,
			State:         nopState{},
			Log:           zap.NewNop(),
		})

		Expect(server.Start(ctx)).To(Succeed())
	})

	AfterEach(func() {
		cancel()
		Expect(server.Close()).To(Succeed())
	})

	connect := func(ctx context.Context, auth payload.AuthInfo) *client.Conn {
		c := client.New(auth, zap.NewNop())
		Expect(c.Connect(ctx, fmt.Sprintf("127.0.0.1:%d", port))).To(Succeed())

		// The handshake runs on the read loop; the session is usable
		// once the server has the login registered.
		if !auth.IsAnonymous() {
			Eventually(func() bool {
				_, ok := server.FindByLogin(auth.Login)
				return ok
			}, "2s").Should(BeTrue())
		}

		return c
	}

	It("authenticates and fetches the channel list", func() {
		ctx, cancelConn := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelConn()

		c := connect(ctx, aliceAuth)
		defer func() { Expect(c.Disconnect()).To(Succeed()) }()

		channels, err := c.GetChannels(ctx)
		Expect(err).To(Succeed())
		Expect(channels).To(Equal(payload.ChannelsInfo{{ID: "S1", Name: "stream one"}}))
	})

	It("pings and reads the server clock", func() {
		ctx, cancelConn := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelConn()

		c := connect(ctx, aliceAuth)
		defer func() { _ = c.Disconnect() }()

		info, err := c.Ping(ctx)
		Expect(err).To(Succeed())
		Expect(info.Timestamp).To(BeNumerically(">", 0))
	})

	It("fetches the server info", func() {
		ctx, cancelConn := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelConn()

		c := connect(ctx, aliceAuth)
		defer func() { _ = c.Disconnect() }()

		info, err := c.GetServerInfo(ctx)
		Expect(err).To(Succeed())
		Expect(info.BandwidthHost).To(Equal("bw.example.com:8080"))
	})

	It("surfaces a fail response as an error", func() {
		ctx, cancelConn := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelConn()

		c := connect(ctx, payload.Anonymous)
		defer func() { _ = c.Disconnect() }()

		_, err := c.GetChannels(ctx)
		Expect(err).To(MatchError(client.ErrFailResponse))
	})

	It("exchanges chat between two sessions on the same stream", func() {
		ctx, cancelConn := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelConn()

		alice := connect(ctx, aliceAuth)
		defer func() { _ = alice.Disconnect() }()

		bob := connect(ctx, bobAuth)
		defer func() { _ = bob.Disconnect() }()

		aliceInfo, err := alice.GetRuntimeChannelInfo(ctx, "S1")
		Expect(err).To(Succeed())
		Expect(aliceInfo.Type).To(Equal(payload.ChannelTypeOfficial))

		// Joining broadcasts the enter to every viewer, the newcomer
		// included.
		var msg *payload.ChatMessage
		Eventually(alice.ChatChan(), "2s").Should(Receive(&msg))
		Expect(msg.Login).To(Equal("alice"))

		bobInfo, err := bob.GetRuntimeChannelInfo(ctx, "S1")
		Expect(err).To(Succeed())
		Expect(bobInfo.WatchersCount).To(Equal(2))

		// Alice sees bob arrive.
		Eventually(alice.ChatChan(), "2s").Should(Receive(&msg))
		Expect(msg.Type).To(Equal(payload.ChatMessageEnter))
		Expect(msg.Login).To(Equal("bob"))

		Expect(bob.SendChatMessage(ctx, payload.ChatMessage{
			ChannelID: "S1",
			Login:     "bob",
			Text:      "hello alice",
		})).To(Succeed())

		Eventually(alice.ChatChan(), "2s").Should(Receive(&msg))
		Expect(msg.Type).To(Equal(payload.ChatMessageText))
		Expect(msg.Text).To(Equal("hello alice"))
		Expect(msg.ID).NotTo(BeEmpty())
	})
})
