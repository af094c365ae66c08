package dispatch

// Kind tags the class of failure a dispatch step hit, per spec.md §7. It is
// a set of kinds, not a value hierarchy: callers switch on Kind, they never
// cast to a concrete error type.
type Kind int

const (
	// MalformedFrame: length/stride violation, bad magic. Drop silently.
	MalformedFrame Kind = iota
	// BadConnectionId: verify failed. Drop silently (no amplification oracle).
	BadConnectionId
	// PolicyRejection: disallowed IP family/range or disallowed remote-IP claim.
	PolicyRejection
	// UnknownInfoHash: static mode, hash not allowed.
	UnknownInfoHash
	// StoreFailure: backing store refused the operation.
	StoreFailure
	// Fatal: socket bind, configuration, unrecoverable OS error at startup.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case MalformedFrame:
		return "malformed_frame"
	case BadConnectionId:
		return "bad_connection_id"
	case PolicyRejection:
		return "policy_rejection"
	case UnknownInfoHash:
		return "unknown_info_hash"
	case StoreFailure:
		return "store_failure"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the dispatcher's own error type: a Kind plus a caller-facing
// message. MalformedFrame and BadConnectionId are always dropped silently
// regardless of Msg; the other kinds carry the text an Error response
// sends back to the client, when a transaction id is available to address
// one to.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

// Silent reports whether errors of this kind must never produce a response
// frame, per the taxonomy's "drop silently" rule.
func (k Kind) Silent() bool {
	return k == MalformedFrame || k == BadConnectionId
}
