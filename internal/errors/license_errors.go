package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// Sentinel domain errors. Services and the store return these (possibly
// wrapped); callers match with errors.Is.
var (
	// ErrNotFound: no license exists for the referenced key.
	ErrNotFound = errors.New("license not found")

	// ErrInvalidTransition: the requested state change is not in the
	// transition table (revoked is terminal, etc).
	ErrInvalidTransition = errors.New("invalid license state transition")

	// ErrHardwareMismatch: the presented hardware token does not equal
	// the bound one.
	ErrHardwareMismatch = errors.New("hardware token mismatch")

	// ErrDuplicateFulfillment: a payment event id was already fulfilled.
	// The pipeline converts this into the previously produced result.
	ErrDuplicateFulfillment = errors.New("duplicate fulfillment")

	// ErrPolicyViolation: the operation is well-formed but disallowed,
	// such as reactivating a license whose expiry has passed.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrTransientStore: the store could not complete the operation but
	// a retry may succeed (lock contention, busy database).
	ErrTransientStore = errors.New("transient store failure")
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Additional fields for extensibility
	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON custom marshaler to include extensions
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status

	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// MapLicenseError maps domain errors to HTTP problem details
func MapLicenseError(err error, traceID string) render.Renderer {
	instance := fmt.Sprintf("/api/license#trace-%s", traceID)

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return NewProblemDetails(
			apiErr.StatusCode,
			"/errors/"+apiErr.ErrorCode,
			apiErr.Message,
			fmt.Sprintf("%v", apiErr.Details),
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", apiErr.ErrorCode)
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return NewProblemDetails(
			http.StatusNotFound,
			"/errors/license-not-found",
			"License Not Found",
			"No license exists for the referenced key.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "LICENSE_NOT_FOUND")

	case errors.Is(err, ErrInvalidTransition):
		return NewProblemDetails(
			http.StatusConflict,
			"/errors/invalid-transition",
			"Invalid State Transition",
			"The license cannot move to the requested state from its current one.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INVALID_TRANSITION")

	case errors.Is(err, ErrHardwareMismatch):
		return NewProblemDetails(
			http.StatusConflict,
			"/errors/hardware-mismatch",
			"Hardware Token Mismatch",
			"This license is bound to a different installation.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "HARDWARE_MISMATCH")

	case errors.Is(err, ErrDuplicateFulfillment):
		return NewProblemDetails(
			http.StatusConflict,
			"/errors/duplicate-fulfillment",
			"Duplicate Fulfillment",
			"This payment event has already been fulfilled.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "DUPLICATE_FULFILLMENT")

	case errors.Is(err, ErrPolicyViolation):
		return NewProblemDetails(
			http.StatusUnprocessableEntity,
			"/errors/policy-violation",
			"Policy Violation",
			"The operation is not permitted by license policy.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "POLICY_VIOLATION")

	case errors.Is(err, ErrTransientStore):
		return NewProblemDetails(
			http.StatusServiceUnavailable,
			"/errors/store-unavailable",
			"Store Temporarily Unavailable",
			"The license store could not complete the operation. Please retry.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "STORE_UNAVAILABLE").
			WithExtension("retry_after", 5)

	default:
		return NewProblemDetails(
			http.StatusInternalServerError,
			"/errors/internal-error",
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INTERNAL_ERROR")
	}
}
