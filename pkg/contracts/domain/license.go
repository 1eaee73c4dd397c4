// Package domain contains the core domain contract types for KeyGate.
// These types serve as the Single Source of Truth (SSOT) for all layers
// of the application: transport, services, and storage.
package domain

import (
	"time"
)

// VerifyRequest represents a license verification request from a client
// installation. HardwareToken is an opaque identifier supplied by the
// caller; the server never derives it.
type VerifyRequest struct {
	LicenseKey    string `json:"license_key" validate:"required,min=10"`
	HardwareToken string `json:"hardware_token,omitempty" validate:"omitempty,min=8,max=128"`
}

// VerifyResponse represents the outcome of a verification request.
type VerifyResponse struct {
	Valid         bool       `json:"valid"`
	Reason        string     `json:"reason,omitempty"`
	ProductRef    string     `json:"product_ref,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	DaysRemaining int        `json:"days_remaining"`
	TraceID       string     `json:"trace_id,omitempty"`
}

// Verification failure reasons. The public API may collapse all of these
// to ReasonInvalid; the precise reason is always logged.
const (
	ReasonNotFound  = "not_found"
	ReasonExpired   = "expired"
	ReasonSuspended = "suspended"
	ReasonRevoked   = "revoked"
	ReasonMismatch  = "hardware_mismatch"
	ReasonInvalid   = "invalid"
)

// GrantRequest represents an administrative license grant, a license
// created outside the payment flow.
type GrantRequest struct {
	OperatorRef  string `json:"operator_ref" validate:"required"`
	UserRef      string `json:"user_ref" validate:"required"`
	ProductRef   string `json:"product_ref" validate:"required"`
	DurationDays int    `json:"duration_days" validate:"required,min=1,max=3650"`
	Reason       string `json:"reason,omitempty"`
}

// AdminActionRequest represents a suspend/reactivate/revoke/reset command
// against an existing license. The operator is assumed to be authenticated
// and authorized by an external collaborator; it is recorded for audit.
type AdminActionRequest struct {
	OperatorRef string `json:"operator_ref" validate:"required"`
	Reason      string `json:"reason" validate:"required,min=3,max=500"`
}

// ExtendRequest represents an administrative extension command.
type ExtendRequest struct {
	OperatorRef string `json:"operator_ref" validate:"required"`
	ExtraDays   int    `json:"extra_days" validate:"required,min=1,max=3650"`
	Reason      string `json:"reason,omitempty"`
}

// LicenseView is the external representation of a license record.
type LicenseView struct {
	LicenseKey     string     `json:"license_key"`
	UserRef        string     `json:"user_ref"`
	ProductRef     string     `json:"product_ref"`
	Status         string     `json:"status"`
	HardwareBound  bool       `json:"hardware_bound"`
	SourceEventID  string     `json:"source_event_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`
	DaysRemaining  int        `json:"days_remaining"`
}

// AuditEntry is one immutable administrative audit record.
type AuditEntry struct {
	ID         int64     `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	LicenseKey string    `json:"license_key"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
