package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := New(ErrCodeProviderNotFound, "no adapter for channel")
	assert.Equal(t, "PROVIDER_NOT_FOUND: no adapter for channel", err.Error())

	cause := errors.New("dial tcp: connection refused")
	wrapped := Wrap(cause, ErrCodeDatabaseConnection, "connect failed")
	assert.Equal(t, "DATABASE_CONNECTION: connect failed: dial tcp: connection refused", wrapped.Error())
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	wrapped := Wrap(cause, ErrCodeDatabaseQuery, "query failed")

	assert.ErrorIs(t, wrapped, cause)
	assert.Nil(t, errors.Unwrap(New(ErrCodeInternalError, "no cause")))
}

func TestAppError_Categories(t *testing.T) {
	assert.Equal(t, CategoryPermanent, New(ErrCodeRecipientNotFound, "x").Category)
	assert.Equal(t, CategoryInfrastructure, Wrap(errors.New("x"), ErrCodeQueuePublish, "x").Category)
	assert.Equal(t, CategoryTransient, WrapRetryable(errors.New("x"), ErrCodeQueueRead, "x").Category)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(WrapRetryable(errors.New("x"), ErrCodeQueueRead, "x")))
	assert.False(t, IsRetryable(New(ErrCodeProviderNotFound, "x")))
	assert.False(t, IsRetryable(errors.New("plain error")))
	assert.False(t, IsRetryable(nil))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeEventNotFound, GetCode(New(ErrCodeEventNotFound, "x")))
	assert.Equal(t, ErrCodeInternalError, GetCode(errors.New("plain error")))
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeInvalidConfig, "bad value").
		WithContext("key", "SWEEP_INTERVAL_MS").
		WithContext("value", -1)

	assert.Equal(t, "SWEEP_INTERVAL_MS", err.Context["key"])
	assert.Equal(t, -1, err.Context["value"])
}
