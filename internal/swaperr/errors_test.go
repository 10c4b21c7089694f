package swaperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AssignsRegisteredKind(t *testing.T) {
	tests := []struct {
		code Code
		want Kind
	}{
		{InvalidIdentifier, Input},
		{ConfigurationMismatch, Precondition},
		{InsufficientBalance, Precondition},
		{AssetNotAvailable, Precondition},
		{ConfirmationTimedOut, Transient},
		{ConfigurationFetchFailed, Transient},
		{EscrowNotDelegated, Administrative},
		{Code("SOMETHING_NEW"), Transient},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.want, err.Kind)
			assert.Equal(t, tt.want == Transient, err.Retryable())
		})
	}
}

func TestIs_ThroughWrapping(t *testing.T) {
	base := New(ConfigurationMismatch, "token differs", nil).With("escrow", "E1")
	wrapped := fmt.Errorf("ensure escrow: %w", base)

	assert.True(t, Is(wrapped, ConfigurationMismatch))
	assert.False(t, Is(wrapped, AssetNotAvailable))
	assert.Equal(t, ConfigurationMismatch, CodeOf(wrapped))
	assert.False(t, Retryable(wrapped))

	se, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "E1", se.Context["escrow"])
}

func TestError_UnwrapCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := New(SettlementFailed, "submit release", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "SETTLEMENT_FAILED")
	assert.Contains(t, err.Error(), "connection reset")
	assert.True(t, Retryable(err))
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.False(t, Retryable(errors.New("plain")))
}
