package protocol

import (
	"bytes"
)

// MaxCommandSize bounds a single wire record, terminator included.
// Anything larger is treated as a hostile or corrupted peer.
const MaxCommandSize = 8 * 1024

// Framer accumulates raw bytes from a socket and cuts them into whole
// CRLF-terminated records. A partial record is retained until more bytes
// arrive.
//
// A Framer is not safe for concurrent use; each connection owns one.
type Framer struct {
	buf []byte
}

// Feed appends p to the internal buffer and returns every complete
// record now available. Once an error is returned the connection should
// be dropped; the Framer makes no attempt to resynchronise.
func (f *Framer) Feed(p []byte) ([]*Record, error) {
	f.buf = append(f.buf, p...)

	var records []*Record

	for {
		idx := bytes.Index(f.buf, Terminal)
		if idx < 0 {
			if len(f.buf) > MaxCommandSize {
				return records, ErrRecordTooLarge
			}

			return records, nil
		}

		line := f.buf[:idx+len(Terminal)]

		if len(line) > MaxCommandSize {
			return records, ErrRecordTooLarge
		}

		record, err := ParseRecord(line)

		// Consume the line whether or not it parsed, so the error
		// reported is about this record and not everything after it.
		f.buf = f.buf[idx+len(Terminal):]

		if err != nil {
			return records, err
		}

		records = append(records, record)
	}
}

// Pending returns the number of buffered bytes that do not yet form a
// complete record.
func (f *Framer) Pending() int {
	return len(f.buf)
}
