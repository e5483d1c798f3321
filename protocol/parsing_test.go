package protocol_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/tvgate/protocol"
)

var _ = Describe("Parsing", func() {
	Describe("ParseRecord()", func() {
		It("returns an error if the line is not CRLF terminated", func() {
			_, err := protocol.ParseRecord([]byte("0 a1 client_ping"))
			Expect(err).To(MatchError(protocol.ErrRecordNotTerminated))

			_, err = protocol.ParseRecord([]byte("0 a1 client_ping\n"))
			Expect(err).To(MatchError(protocol.ErrRecordNotTerminated))
		})

		It("returns an error if the data is too short to be a valid record", func() {
			_, err := protocol.ParseRecord([]byte("0\r\n"))
			Expect(err).To(MatchError(protocol.ErrRecordTooShort))

			_, err = protocol.ParseRecord([]byte("0 a\r\n"))
			Expect(err).To(MatchError(protocol.ErrRecordTooShort))
		})

		It("returns an error if the kind is not a recognised digit", func() {
			_, err := protocol.ParseRecord([]byte("9 a1 client_ping\r\n"))
			Expect(errors.Is(err, protocol.ErrUnknownKind)).To(BeTrue())

			_, err = protocol.ParseRecord([]byte("x a1 client_ping\r\n"))
			Expect(errors.Is(err, protocol.ErrUnknownKind)).To(BeTrue())
		})

		It("returns an error if there is no body after the seq", func() {
			_, err := protocol.ParseRecord([]byte("0 abcdef\r\n"))
			Expect(errors.Is(err, protocol.ErrEmptyBody)).To(BeTrue())
		})

		It("parses a valid request", func() {
			rec, err := protocol.ParseRecord([]byte("0 a1 get_runtime_channel_info S1\r\n"))
			Expect(err).To(Succeed())

			Expect(rec.Kind).To(Equal(protocol.KindRequest))
			Expect(rec.Seq).To(Equal("a1"))
			Expect(rec.Command()).To(Equal("get_runtime_channel_info"))
			Expect(rec.Args()).To(Equal([]string{"S1"}))
		})

		It("parses a valid response", func() {
			rec, err := protocol.ParseRecord([]byte(`1 a1 ok client_ping {"timestamp":1}` + "\r\n"))
			Expect(err).To(Succeed())

			Expect(rec.Kind).To(Equal(protocol.KindResponse))
			Expect(rec.Ok()).To(BeTrue())
			Expect(rec.Command()).To(Equal("client_ping"))
			Expect(rec.Args()).To(Equal([]string{`{"timestamp":1}`}))
		})

		It("parses a valid approve carrying a fail status", func() {
			rec, err := protocol.ParseRecord([]byte(`2 a1 fail who_are_you "Double connection reject"` + "\r\n"))
			Expect(err).To(Succeed())

			Expect(rec.Kind).To(Equal(protocol.KindApprove))
			Expect(rec.Ok()).To(BeFalse())
			Expect(rec.Command()).To(Equal("who_are_you"))
			Expect(rec.Args()).To(Equal([]string{"Double connection reject"}))
		})

		It("rejects responses that do not lead with a status token", func() {
			_, err := protocol.ParseRecord([]byte("1 a1 client_ping\r\n"))
			Expect(errors.Is(err, protocol.ErrMissingStatus)).To(BeTrue())
		})
	})

	Describe("SplitArgs()", func() {
		It("splits unquoted tokens on spaces", func() {
			Expect(protocol.SplitArgs("a b  c")).To(Equal([]string{"a", "b", "c"}))
		})

		It("keeps spaces inside double quotes", func() {
			Expect(protocol.SplitArgs(`fail "Unknown device reject"`)).To(
				Equal([]string{"fail", "Unknown device reject"}))
		})

		It("keeps spaces inside single quotes", func() {
			Expect(protocol.SplitArgs("a 'b c'")).To(Equal([]string{"a", "b c"}))
		})

		It("unescapes inside double quotes", func() {
			Expect(protocol.SplitArgs(`"a\"b" "c\nd"`)).To(Equal([]string{`a"b`, "c\nd"}))
		})

		It("passes JSON blobs through as single tokens", func() {
			argv, err := protocol.SplitArgs(`ok get_channels {"id":"c1","name":"one"}`)
			Expect(err).To(Succeed())
			Expect(argv).To(Equal([]string{"ok", "get_channels", `{"id":"c1","name":"one"}`}))
		})

		It("returns an error on unbalanced quotes", func() {
			_, err := protocol.SplitArgs(`a "b`)
			Expect(err).To(MatchError(protocol.ErrUnbalancedQuotes))

			_, err = protocol.SplitArgs(`"a"b`)
			Expect(err).To(MatchError(protocol.ErrUnbalancedQuotes))
		})
	})

	Describe("round trips", func() {
		It("decodes what it encodes", func() {
			records := []*protocol.Record{
				{Kind: protocol.KindRequest, Seq: "1f", Argv: []string{"client_ping"}},
				{Kind: protocol.KindRequest, Seq: "a", Argv: []string{"get_runtime_channel_info", "S1"}},
				{Kind: protocol.KindResponse, Seq: "b2", Argv: []string{"ok", "client_ping", `{"timestamp":7}`}},
				{Kind: protocol.KindApprove, Seq: "c3", Argv: []string{"fail", "who_are_you", "Double connection reject"}},
				{Kind: protocol.KindResponse, Seq: "d4", Argv: []string{"ok", "client_send_chat_message", `{"text":"hi there"}`}},
			}

			for _, rec := range records {
				decoded, err := protocol.ParseRecord(rec.Encode())
				Expect(err).To(Succeed())
				Expect(decoded).To(Equal(rec))
			}
		})
	})
})
