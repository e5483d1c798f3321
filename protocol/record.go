package protocol

// RecordKind is the first token of every wire record.
type RecordKind uint8

const (
	// KindRequest asks the peer to perform a command.
	KindRequest RecordKind = 0

	// KindResponse answers a request, carrying ok or fail.
	KindResponse RecordKind = 1

	// KindApprove acknowledges a response and terminates the exchange.
	KindApprove RecordKind = 2
)

func (k RecordKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindApprove:
		return "approve"
	default:
		return "unknown"
	}
}

// Record is one decoded wire unit.
//
// For requests Argv[0] is the command name. For responses and approves
// Argv[0] is the status token ("ok" or "fail") and Argv[1] the command
// name.
type Record struct {
	Kind RecordKind
	Seq  string
	Argv []string
}

// Command returns the command name of the record, regardless of kind.
func (r *Record) Command() string {
	switch r.Kind {
	case KindRequest:
		if len(r.Argv) > 0 {
			return r.Argv[0]
		}
	case KindResponse, KindApprove:
		if len(r.Argv) > 1 {
			return r.Argv[1]
		}
	}

	return ""
}

// Ok reports whether a response or approve carries the ok status.
// It is always false for requests.
func (r *Record) Ok() bool {
	return r.Kind != KindRequest && len(r.Argv) > 0 && r.Argv[0] == StatusOk
}

// Args returns the arguments following the command name.
func (r *Record) Args() []string {
	switch r.Kind {
	case KindRequest:
		if len(r.Argv) > 1 {
			return r.Argv[1:]
		}
	case KindResponse, KindApprove:
		if len(r.Argv) > 2 {
			return r.Argv[2:]
		}
	}

	return nil
}
