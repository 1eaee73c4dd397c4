package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapLicenseError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "not found",
			err:        ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   "LICENSE_NOT_FOUND",
		},
		{
			name:       "invalid transition",
			err:        ErrInvalidTransition,
			wantStatus: http.StatusConflict,
			wantCode:   "INVALID_TRANSITION",
		},
		{
			name:       "hardware mismatch",
			err:        ErrHardwareMismatch,
			wantStatus: http.StatusConflict,
			wantCode:   "HARDWARE_MISMATCH",
		},
		{
			name:       "duplicate fulfillment",
			err:        ErrDuplicateFulfillment,
			wantStatus: http.StatusConflict,
			wantCode:   "DUPLICATE_FULFILLMENT",
		},
		{
			name:       "policy violation",
			err:        ErrPolicyViolation,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "POLICY_VIOLATION",
		},
		{
			name:       "transient store failure",
			err:        ErrTransientStore,
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "STORE_UNAVAILABLE",
		},
		{
			name:       "wrapped sentinel",
			err:        fmt.Errorf("updating row: %w", ErrInvalidTransition),
			wantStatus: http.StatusConflict,
			wantCode:   "INVALID_TRANSITION",
		},
		{
			name:       "unknown error",
			err:        fmt.Errorf("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			renderer := MapLicenseError(tt.err, "trace-1")

			pd, ok := renderer.(*ProblemDetails)
			require.True(t, ok)
			assert.Equal(t, tt.wantStatus, pd.Status)
			assert.Equal(t, tt.wantCode, pd.Extensions["error_code"])
			assert.Equal(t, "trace-1", pd.Extensions["trace_id"])
		})
	}
}

func TestMapLicenseErrorAPIError(t *testing.T) {
	apiErr := NewWithDetails(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", "license_key required")

	renderer := MapLicenseError(apiErr, "trace-2")
	pd, ok := renderer.(*ProblemDetails)
	require.True(t, ok)

	assert.Equal(t, http.StatusBadRequest, pd.Status)
	assert.Equal(t, "VALIDATION_FAILED", pd.Extensions["error_code"])
}

func TestProblemDetailsMarshalJSON(t *testing.T) {
	pd := NewProblemDetails(http.StatusConflict, "/errors/x", "X", "detail here", "/api/y")
	pd.WithExtension("trace_id", "t-9")

	data, err := json.Marshal(pd)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "/errors/x", decoded["type"])
	assert.Equal(t, "X", decoded["title"])
	assert.Equal(t, float64(http.StatusConflict), decoded["status"])
	assert.Equal(t, "detail here", decoded["detail"])
	assert.Equal(t, "t-9", decoded["trace_id"])
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound,
		ErrInvalidTransition,
		ErrHardwareMismatch,
		ErrDuplicateFulfillment,
		ErrPolicyViolation,
		ErrTransientStore,
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j {
				assert.NotErrorIs(t, a, b)
			}
		}
	}
}
