package backend

import "errors"

// Kind classifies a gateway error by the recovery policy it demands. Every
// error the backend provider adapters return is wrapped with one of these so
// callers up the stack can apply the right policy without string matching.
// Errors from pkg/rtpmedia and pkg/ari are plain errors and classify as
// Unknown.
type Kind int

const (
	// Unknown is the zero value: a plain error with no declared recovery
	// policy. Code that returns a bare error rather than a wrapped one gets
	// this by default via ClassifyKind.
	Unknown Kind = iota

	// NetworkTransient covers retriable UDP/HTTP failures. Policy: log and
	// continue, never tear down the call.
	NetworkTransient

	// ProtocolViolation covers malformed event JSON or an unexpected HTTP
	// status. Policy: log at warn, skip the event/request, do not tear
	// down.
	ProtocolViolation

	// BackendFailure covers a recognizer, synthesizer, or language model
	// that errored or returned empty. Policy: skip this utterance's
	// response, the call continues.
	BackendFailure

	// InvalidArgument covers a caller contract violation. Policy: fail
	// fast with an error surfaced to the caller.
	InvalidArgument

	// Cancelled covers cooperative cancellation. Policy: propagate
	// silently, scoped releases still run.
	Cancelled

	// Fatal covers an endpoint bind failure or unrecoverable socket error.
	// Policy: tear down the affected call only, other calls are
	// unaffected.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case NetworkTransient:
		return "network_transient"
	case ProtocolViolation:
		return "protocol_violation"
	case BackendFailure:
		return "backend_failure"
	case InvalidArgument:
		return "invalid_argument"
	case Cancelled:
		return "cancelled"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// kindError attaches a Kind to a wrapped error without losing the original
// error in errors.Is/errors.As chains.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }
func (e *kindError) Kind() Kind    { return e.kind }

// Wrap annotates err with kind. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// ClassifyKind extracts the Kind attached via Wrap, or Unknown if err was
// never wrapped.
func ClassifyKind(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}

// Sentinel errors for the conditions named explicitly in the edge-case
// table: callers match these with errors.Is rather than string comparison.
var (
	ErrEmptyTranscription = errors.New("backend: recognizer returned empty text")
	ErrRecognizeFailed    = errors.New("backend: recognizer failed")
	ErrGenerateFailed     = errors.New("backend: language model generation failed")
	ErrSynthesizeFailed   = errors.New("backend: synthesizer failed")
	ErrNilBackend         = errors.New("backend: required backend is nil")
)
