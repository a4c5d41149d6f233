package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDomainErrorKeepsWrappedDomainErrors(t *testing.T) {
	wrapped := fmt.Errorf("update queue: %w", NewConfigurationError("overflow cycle", map[string]any{"queue_id": "q1"}))

	de := ToDomainError(wrapped)
	require.NotNil(t, de)
	assert.Equal(t, "CONFIGURATION_ERROR", de.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, de.HTTPStatus)
	assert.Equal(t, "q1", de.Details["queue_id"])
}

func TestToDomainErrorHidesUnknownErrors(t *testing.T) {
	cause := errors.New("connection reset")

	de := ToDomainError(cause)
	assert.Equal(t, "INTERNAL_ERROR", de.Code)
	assert.Equal(t, http.StatusInternalServerError, de.HTTPStatus)
	assert.Equal(t, "internal server error", de.Message)
	assert.ErrorIs(t, de, cause)
}

func TestMapErrorNil(t *testing.T) {
	assert.NoError(t, MapError(nil))
	assert.Nil(t, ToDomainError(nil))
}

func TestConstructorsStatus(t *testing.T) {
	tests := []struct {
		err    error
		code   string
		status int
	}{
		{NewValidationError("bad", nil), "VALIDATION_FAILED", http.StatusBadRequest},
		{NewNotFound("ticket", nil), "NOT_FOUND", http.StatusNotFound},
		{NewUnauthorized("no token"), "UNAUTHORIZED", http.StatusUnauthorized},
		{NewTenantRequired(), "TENANT_REQUIRED", http.StatusUnauthorized},
		{NewForbidden("admin only"), "FORBIDDEN", http.StatusForbidden},
		{NewConflict("busy", nil), "CONFLICT", http.StatusConflict},
		{NewInternalError(errors.New("boom")), "INTERNAL_ERROR", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			de := ToDomainError(tt.err)
			assert.Equal(t, tt.code, de.Code)
			assert.Equal(t, tt.status, de.HTTPStatus)
		})
	}
}
