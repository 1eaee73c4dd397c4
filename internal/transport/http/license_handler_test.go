package http

import (
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/services"
	"keygate/internal/store"
	"keygate/pkg/contracts/domain"
)

func newLicenseRouter(t *testing.T, exposeReasons bool) (*LicenseHandler, *store.SQLiteStore) {
	t.Helper()

	st := newTestStore(t)
	svc, err := services.NewVerificationService(st, exposeReasons, slog.Default(), testTracer(), testMeter())
	require.NoError(t, err)
	return NewLicenseHandler(svc, slog.Default()), st
}

func TestVerifyEndpointValidLicense(t *testing.T) {
	h, st := newLicenseRouter(t, false)
	lic := seedLicense(t, st, nil)

	var resp domain.VerifyResponse
	rec := doRequest(t, h.Routes(), http.MethodPost, "/verify",
		domain.VerifyRequest{LicenseKey: lic.Key}, nil, &resp)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Valid)
	assert.Equal(t, "prod-1", resp.ProductRef)
	assert.Equal(t, 29, resp.DaysRemaining)
}

func TestVerifyEndpointUnknownKeyIsInvalidNotError(t *testing.T) {
	h, _ := newLicenseRouter(t, false)

	var resp domain.VerifyResponse
	rec := doRequest(t, h.Routes(), http.MethodPost, "/verify",
		domain.VerifyRequest{LicenseKey: "KG-DOES-NOT-EXIST-000000"}, nil, &resp)

	// Unknown keys are a negative verdict, not an HTTP failure.
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.Valid)
	assert.Equal(t, domain.ReasonInvalid, resp.Reason)
}

func TestVerifyEndpointExposesReasonWhenConfigured(t *testing.T) {
	h, st := newLicenseRouter(t, true)
	lic := seedLicense(t, st, nil)

	var resp domain.VerifyResponse
	doRequest(t, h.Routes(), http.MethodPost, "/verify",
		domain.VerifyRequest{LicenseKey: lic.Key, HardwareToken: "machine-aaaa"}, nil, &resp)
	require.True(t, resp.Valid)

	// Second machine is rejected with the precise reason.
	rec := doRequest(t, h.Routes(), http.MethodPost, "/verify",
		domain.VerifyRequest{LicenseKey: lic.Key, HardwareToken: "machine-bbbb"}, nil, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.Valid)
	assert.Equal(t, domain.ReasonMismatch, resp.Reason)
}

func TestVerifyEndpointRejectsMalformedBody(t *testing.T) {
	h, _ := newLicenseRouter(t, false)

	rec := doRequest(t, h.Routes(), http.MethodPost, "/verify",
		[]byte(`{"license_key":`), nil, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyEndpointRejectsShortKey(t *testing.T) {
	h, _ := newLicenseRouter(t, false)

	var problem map[string]any
	rec := doRequest(t, h.Routes(), http.MethodPost, "/verify",
		domain.VerifyRequest{LicenseKey: "short"}, nil, &problem)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
