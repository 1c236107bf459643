package analysis

import (
	"errors"
	"fmt"
)

// Kind classifies analysis failures. Precondition kinds are returned
// synchronously from Trigger; provider kinds are only ever recorded on the
// media record.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInvalidState      Kind = "invalid_state"
	KindProviderConfig    Kind = "provider_config"
	KindProviderTransport Kind = "provider_transport"
	KindProviderTimeout   Kind = "provider_timeout"
	KindProviderRejected  Kind = "provider_rejected"
	KindMalformedResponse Kind = "malformed_response"
	// KindInvalidMedia covers stored bytes the adapter cannot use, such as
	// an image that does not decode.
	KindInvalidMedia      Kind = "invalid_media"
)

// Error is the typed error carried through the analysis pipeline.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind, so sentinels like
// ErrConflict match any conflict regardless of message.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "media not found"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "analysis already in progress"}
	ErrInvalidState      = &Error{Kind: KindInvalidState, Message: "media is not in a valid state"}
	ErrProviderConfig    = &Error{Kind: KindProviderConfig, Message: "provider not configured"}
	ErrProviderTransport = &Error{Kind: KindProviderTransport, Message: "provider request failed"}
	ErrProviderTimeout   = &Error{Kind: KindProviderTimeout, Message: "provider timed out"}
	ErrProviderRejected  = &Error{Kind: KindProviderRejected, Message: "provider rejected the job"}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse, Message: "malformed provider response"}
	ErrInvalidMedia      = &Error{Kind: KindInvalidMedia, Message: "media content is not usable"}
)

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
