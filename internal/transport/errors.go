package transport

import (
	"errors"
	"fmt"
)

// Kind classifies a transport failure. Components translate their internal
// failures to exactly one kind at the boundary; only the turn controller
// decides whether a failure is recoverable in context.
type Kind int

const (
	KindNetwork Kind = iota
	KindUnauthorized
	KindBackend
	KindSessionExpired
	KindNoAudio
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindUnauthorized:
		return "unauthorized"
	case KindBackend:
		return "backend"
	case KindSessionExpired:
		return "session_expired"
	case KindNoAudio:
		return "no_audio"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is the single error shape the transport surfaces.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(kind Kind, status int, message string, cause error) *Error {
	return &Error{Kind: kind, Status: status, Message: message, cause: cause}
}

// IsKind reports whether err is a transport error of the given kind.
func IsKind(err error, kind Kind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}
