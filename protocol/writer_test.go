package protocol_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/tvgate/protocol"
)

var _ = Describe("Parsing/ Writer", func() {
	Describe("MakeRequest", func() {
		It("starts with the request kind and seq", func() {
			Expect(string(protocol.MakeRequest("1f", protocol.WhoAreYou))).To(
				HavePrefix("0 1f "))
		})

		It("ends in \r\n", func() {
			Expect(string(protocol.MakeRequest("1f", protocol.WhoAreYou))).To(
				HaveSuffix("\r\n"))
		})

		It("includes the command and its arguments", func() {
			Expect(string(protocol.MakeRequest("1f", protocol.GetRuntimeChannelInfo, "S1"))).To(
				Equal("0 1f get_runtime_channel_info S1\r\n"))
		})
	})

	Describe("MakeResponse", func() {
		It("includes the ok status token", func() {
			Expect(string(protocol.MakeResponse("a1", true, protocol.ClientPing, `{"timestamp":1}`))).To(
				Equal(`1 a1 ok client_ping {"timestamp":1}` + "\r\n"))
		})

		It("includes the fail status token", func() {
			Expect(string(protocol.MakeResponse("a1", false, protocol.GetChannels, "no"))).To(
				Equal("1 a1 fail get_channels no\r\n"))
		})
	})

	Describe("MakeApprove", func() {
		It("quotes arguments containing spaces", func() {
			Expect(string(protocol.MakeApprove("s2", false, protocol.WhoAreYou, "Double connection reject"))).To(
				Equal(`2 s2 fail who_are_you "Double connection reject"` + "\r\n"))
		})

		It("builds the bare success form", func() {
			Expect(string(protocol.MakeApprove("s1", true, protocol.WhoAreYou))).To(
				Equal("2 s1 ok who_are_you\r\n"))
		})
	})

	Describe("QuoteArg", func() {
		It("leaves plain tokens alone", func() {
			Expect(protocol.QuoteArg(`{"a":1}`)).To(Equal(`{"a":1}`))
		})

		It("quotes the empty token", func() {
			Expect(protocol.QuoteArg("")).To(Equal(`""`))
		})

		It("escapes embedded quotes", func() {
			Expect(protocol.QuoteArg(`say "hi"`)).To(Equal(`"say \"hi\""`))
		})
	})
})
