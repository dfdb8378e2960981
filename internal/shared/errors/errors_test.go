package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeInvalidInput, http.StatusBadRequest},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeInsufficientBudget, http.StatusPaymentRequired},
		{ErrCodeForbidden, http.StatusForbidden},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeVersionConflict, http.StatusConflict},
		{ErrCodeDataError, http.StatusUnprocessableEntity},
		{ErrCodeLocked, http.StatusLocked},
		{ErrCodeUnavailable, http.StatusServiceUnavailable},
		{ErrCodeDatabaseError, http.StatusInternalServerError},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.code))
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("stale sync token")
	err := fmt.Errorf("approve: %w", VersionConflict("record changed remotely", cause))

	require.True(t, IsAppError(err))
	appErr := GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, ErrCodeVersionConflict, appErr.Code)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, appErr.Error(), "stale sync token")
}

func TestGetAppError_Plain(t *testing.T) {
	assert.False(t, IsAppError(errors.New("plain")))
	assert.Nil(t, GetAppError(errors.New("plain")))
}
