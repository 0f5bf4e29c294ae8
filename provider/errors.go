package provider

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a provider failure for retry and reporting purposes.
type ErrorKind int

const (
	// KindUnknown is an unclassified failure. Retried, since most transient
	// SDK errors surface unclassified.
	KindUnknown ErrorKind = iota
	// KindNetwork is a connectivity or timeout failure. Retried.
	KindNetwork
	// KindAuth is a credential or permission failure. Never retried —
	// repeating the call cannot help and burns API quota.
	KindAuth
	// KindThrottled means the provider rejected the call for rate reasons.
	// Retried, after backoff.
	KindThrottled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindThrottled:
		return "throttled"
	default:
		return "unknown"
	}
}

// Error is a classified failure from a provider billing API.
type Error struct {
	Kind     ErrorKind
	Provider string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider %s: %s (%s): %v", e.Provider, e.Message, e.Kind, e.Cause)
	}
	return fmt.Sprintf("provider %s: %s (%s)", e.Provider, e.Message, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether retrying this failure can possibly succeed.
func (e *Error) Retryable() bool { return e.Kind != KindAuth }

// NewError builds a classified provider error wrapping cause (which may be
// nil).
func NewError(kind ErrorKind, providerName, message string, cause error) *Error {
	return &Error{Kind: kind, Provider: providerName, Message: message, Cause: cause}
}

// Retryable reports whether err is worth another attempt. Classified
// provider errors answer for themselves; anything unclassified is assumed
// transient.
func Retryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return err != nil
}

// IsAuth reports whether err is a credential/permission failure.
func IsAuth(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindAuth
}

// IsThrottled reports whether err is a provider rate-limit rejection.
func IsThrottled(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindThrottled
}
