package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	TransportError    ErrorKind = "TransportError"
	NegotiationError  ErrorKind = "NegotiationError"
	ProtocolViolation ErrorKind = "ProtocolViolation"
	BusyConflict      ErrorKind = "BusyConflict"
	MediaError        ErrorKind = "MediaError"
	Rejected          ErrorKind = "Rejected"
)

// CallError is the only error shape that leaves the call core.
type CallError struct {
	Kind   ErrorKind
	Detail string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func NewCallError(kind ErrorKind, format string, args ...any) *CallError {
	return &CallError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf reports the ErrorKind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
