package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsSetCodes(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		code ErrorCode
	}{
		{"invalid credentials", InvalidCredentials("bad password"), ErrCodeInvalidCredentials},
		{"email not confirmed", EmailNotConfirmed("confirm first"), ErrCodeEmailNotConfirmed},
		{"not authenticated", NotAuthenticated("log in"), ErrCodeNotAuthenticated},
		{"backend sync", BackendSync("api down"), ErrCodeBackendSync},
		{"storage", Storage("disk full"), ErrCodeStorage},
		{"validation", Validation("bad input"), ErrCodeValidation},
		{"internal", Internal("boom"), ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.code, GetCode(tt.err))
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, ErrCodeBackendSync, "update profile")

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, IsBackendSync(err))
	assert.Contains(t, err.Error(), "update profile")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeStorage, "read"))
	assert.Nil(t, Wrapf(nil, ErrCodeStorage, "read %q", "key"))
}

func TestPredicatesMatchThroughWrapping(t *testing.T) {
	inner := EmailNotConfirmed("confirm your email")
	outer := fmt.Errorf("login: %w", inner)

	assert.True(t, IsEmailNotConfirmed(outer))
	assert.False(t, IsInvalidCredentials(outer))
	assert.Equal(t, ErrCodeEmailNotConfirmed, GetCode(outer))
}

func TestPredicatesOnForeignErrors(t *testing.T) {
	err := stderrors.New("plain")

	assert.False(t, IsInvalidCredentials(err))
	assert.False(t, IsStorage(err))
	assert.Empty(t, GetCode(err))
}

func TestValidationField(t *testing.T) {
	err := ValidationField("email", "must not be empty")

	assert.True(t, IsValidation(err))
	assert.Equal(t, "email", GetField(err))
	assert.Empty(t, GetField(Internal("boom")))
}
