package protocol

import (
	"strings"
)

// Terminal ends every wire record.
var Terminal = []byte("\r\n")

// MakeRequest builds the wire form of a request record.
func MakeRequest(seq, command string, args ...string) []byte {
	return makeRecord(KindRequest, seq, append([]string{command}, args...))
}

// MakeResponse builds the wire form of a response record. ok selects
// between the "ok" and "fail" status tokens.
func MakeResponse(seq string, ok bool, command string, args ...string) []byte {
	return makeRecord(KindResponse, seq, append([]string{status(ok), command}, args...))
}

// MakeApprove builds the wire form of an approve record.
func MakeApprove(seq string, ok bool, command string, args ...string) []byte {
	return makeRecord(KindApprove, seq, append([]string{status(ok), command}, args...))
}

// Encode renders a parsed record back into its wire form.
func (r *Record) Encode() []byte {
	return makeRecord(r.Kind, r.Seq, r.Argv)
}

func status(ok bool) string {
	if ok {
		return StatusOk
	}

	return StatusFail
}

func makeRecord(kind RecordKind, seq string, argv []string) []byte {
	var b strings.Builder

	b.WriteByte('0' + byte(kind))
	b.WriteByte(' ')
	b.WriteString(seq)

	for _, arg := range argv {
		b.WriteByte(' ')
		b.WriteString(QuoteArg(arg))
	}

	b.Write(Terminal)

	return []byte(b.String())
}

// QuoteArg wraps a token in double quotes when it would not survive the
// space-splitting parse unquoted. Mid-token quote characters are
// harmless on the wire, so JSON blobs stay readable.
func QuoteArg(arg string) string {
	if arg != "" && arg[0] != '"' && arg[0] != '\'' &&
		!strings.ContainsAny(arg, " \r\n\t") {
		return arg
	}

	var b strings.Builder

	b.WriteByte('"')

	for i := 0; i < len(arg); i++ {
		switch c := arg[i]; c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}

	b.WriteByte('"')

	return b.String()
}
