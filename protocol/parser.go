package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	ErrRecordTooShort      = errors.New("Record is malformed, it appears to be too short")
	ErrUnknownKind         = errors.New("Record is malformed, its kind is not a recognised digit")
	ErrEmptyBody           = errors.New("Record is malformed, it has no body after the seq token")
	ErrUnbalancedQuotes    = errors.New("Record is malformed, it contains unbalanced quotes")
	ErrMissingStatus       = errors.New("Record is malformed, responses and approves must lead with ok or fail")
	ErrRecordTooLarge      = errors.New("Record exceeds the maximum allowed command size")
	ErrRecordNotTerminated = errors.New("Record is malformed, it is not CRLF terminated")
)

// ParseRecord decodes a single record line. The line must include its
// trailing CRLF.
func ParseRecord(line []byte) (*Record, error) {
	if !bytes.HasSuffix(line, Terminal) {
		return nil, ErrRecordNotTerminated
	}

	line = line[:len(line)-len(Terminal)]

	// The shortest possible record is "0 s c".
	if len(line) < 5 {
		return nil, ErrRecordTooShort
	}

	if line[1] != ' ' {
		return nil, ErrUnknownKind
	}

	var kind RecordKind

	switch line[0] {
	case '0':
		kind = KindRequest
	case '1':
		kind = KindResponse
	case '2':
		kind = KindApprove
	default:
		return nil, fmt.Errorf("Failed to parse '%s': %w", string(line), ErrUnknownKind)
	}

	rest := line[2:]

	sp := bytes.IndexByte(rest, ' ')
	if sp <= 0 {
		return nil, fmt.Errorf("Failed to parse '%s': %w", string(line), ErrEmptyBody)
	}

	seq := string(rest[:sp])

	argv, err := SplitArgs(string(rest[sp+1:]))
	if err != nil {
		return nil, fmt.Errorf("Failed to parse '%s': %w", string(line), err)
	}

	if len(argv) == 0 {
		return nil, fmt.Errorf("Failed to parse '%s': %w", string(line), ErrEmptyBody)
	}

	if kind != KindRequest {
		if argv[0] != StatusOk && argv[0] != StatusFail {
			return nil, fmt.Errorf("Failed to parse '%s': %w", string(line), ErrMissingStatus)
		}

		if len(argv) < 2 {
			return nil, fmt.Errorf("Failed to parse '%s': %w", string(line), ErrEmptyBody)
		}
	}

	return &Record{Kind: kind, Seq: seq, Argv: argv}, nil
}

// SplitArgs splits a record body into tokens using shell style quoting.
//
// Unquoted tokens split on runs of spaces. A token beginning with a
// double quote may contain spaces and the usual backslash escapes; one
// beginning with a single quote is taken verbatim. A quoted token must
// be followed by a space or the end of input.
//
// Quote characters appearing mid-token are literal, so a bare JSON blob
// like {"a":1} passes through as a single token unharmed.
func SplitArgs(body string) ([]string, error) {
	var argv []string

	i := 0
	for i < len(body) {
		// Skip the blanks between tokens.
		for i < len(body) && body[i] == ' ' {
			i++
		}

		if i >= len(body) {
			break
		}

		var (
			token    []byte
			inQuote  bool
			inSingle bool
			started  bool
			done     bool
		)

		for !done {
			if i >= len(body) {
				if inQuote || inSingle {
					return nil, ErrUnbalancedQuotes
				}

				done = true
				break
			}

			c := body[i]

			switch {
			case inQuote:
				switch {
				case c == '\\' && i+1 < len(body):
					i++
					switch body[i] {
					case 'n':
						token = append(token, '\n')
					case 'r':
						token = append(token, '\r')
					case 't':
						token = append(token, '\t')
					default:
						token = append(token, body[i])
					}
				case c == '"':
					// A closing quote must terminate the token.
					if i+1 < len(body) && body[i+1] != ' ' {
						return nil, ErrUnbalancedQuotes
					}

					inQuote = false
				default:
					token = append(token, c)
				}

			case inSingle:
				switch {
				case c == '\\' && i+1 < len(body) && body[i+1] == '\'':
					i++
					token = append(token, '\'')
				case c == '\'':
					if i+1 < len(body) && body[i+1] != ' ' {
						return nil, ErrUnbalancedQuotes
					}

					inSingle = false
				default:
					token = append(token, c)
				}

			default:
				switch {
				case c == ' ':
					done = true
					// Leave i on the space; the outer loop skips it.
					i--
				case c == '"' && !started:
					inQuote = true
				case c == '\'' && !started:
					inSingle = true
				default:
					token = append(token, c)
				}
			}

			started = true
			i++
		}

		argv = append(argv, string(token))
	}

	return argv, nil
}
