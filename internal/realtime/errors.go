package realtime

import (
	"errors"
	"fmt"
)

// Kind classifies failures reported back over the event channel.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthorization
	KindNotFound
	KindWindowExpired
)

// Error is a failure safe to surface to the originating client. Anything not
// wrapped in an Error is treated as internal and reported generically.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewAuthorizationError(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewWindowExpiredError(format string, args ...any) *Error {
	return &Error{Kind: KindWindowExpired, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err carries the given failure kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsClientError reports whether err is safe to show to the client as-is.
func IsClientError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// ClientMessage maps err to the text carried by the error event. Internal
// failures come back as a generic description so nothing leaks.
func ClientMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
