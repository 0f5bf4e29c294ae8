package provider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "unknown", KindUnknown.String())
	assert.Equal(t, "network", KindNetwork.String())
	assert.Equal(t, "auth", KindAuth.String())
	assert.Equal(t, "throttled", KindThrottled.String())
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewError(KindNetwork, "aws", "cost explorer query failed", cause)
	assert.Contains(t, err.Error(), "aws")
	assert.Contains(t, err.Error(), "network")
	assert.Contains(t, err.Error(), "connection refused")

	noCause := NewError(KindAuth, "gcp", "invalid credentials", nil)
	assert.Contains(t, noCause.Error(), "gcp")
	assert.NotContains(t, noCause.Error(), "<nil>")
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(KindUnknown, "azure", "query failed", cause)
	assert.ErrorIs(t, err, cause)

	var pe *Error
	wrapped := fmt.Errorf("fetch: %w", err)
	assert.True(t, errors.As(wrapped, &pe))
	assert.Equal(t, "azure", pe.Provider)
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.True(t, Retryable(errors.New("plain")))
	assert.True(t, Retryable(NewError(KindNetwork, "aws", "timeout", nil)))
	assert.True(t, Retryable(NewError(KindThrottled, "aws", "rate exceeded", nil)))
	assert.True(t, Retryable(NewError(KindUnknown, "aws", "mystery", nil)))
	assert.False(t, Retryable(NewError(KindAuth, "aws", "expired token", nil)))

	// Classification survives wrapping.
	wrapped := fmt.Errorf("outer: %w", NewError(KindAuth, "gcp", "denied", nil))
	assert.False(t, Retryable(wrapped))
}

func TestKindPredicates(t *testing.T) {
	auth := NewError(KindAuth, "aws", "denied", nil)
	throttled := NewError(KindThrottled, "aws", "slow down", nil)

	assert.True(t, IsAuth(auth))
	assert.False(t, IsAuth(throttled))
	assert.False(t, IsAuth(errors.New("plain")))

	assert.True(t, IsThrottled(throttled))
	assert.False(t, IsThrottled(auth))
	assert.False(t, IsThrottled(nil))
}
