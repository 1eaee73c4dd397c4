// Package license defines the license entity, its lifecycle states and
// the transition rules every mutation path consults. The store enforces
// these rules inside its transactions; nothing else mutates state.
package license

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a license.
type Status string

const (
	// StatusActive licenses verify successfully and grant entitlement.
	StatusActive Status = "active"
	// StatusExpired licenses failed a time check; extension can revive them.
	StatusExpired Status = "expired"
	// StatusSuspended licenses are administratively paused.
	StatusSuspended Status = "suspended"
	// StatusRevoked is terminal. No transition leaves it.
	StatusRevoked Status = "revoked"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusExpired, StatusSuspended, StatusRevoked:
		return true
	}
	return false
}

// License is the canonical license record. HardwareID and SourceEventID
// are nil until bound; Version is the optimistic concurrency counter the
// store bumps on every mutation.
type License struct {
	Key            string
	UserRef        string
	ProductRef     string
	Status         Status
	HardwareID     *string
	SourceEventID  *string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastVerifiedAt *time.Time
	Version        int64
}

// NewKey generates a license key. Keys are uppercase UUID-derived with a
// product-agnostic prefix so support staff can recognize them on sight.
func NewKey() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return "KG-" + raw[:8] + "-" + raw[8:16] + "-" + raw[16:24]
}

// CanTransition reports whether a license may move from one status to
// another. Revoked is terminal, expired may not be suspended, and a
// transition to the same status is never valid.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusActive:
		return to == StatusExpired || to == StatusSuspended || to == StatusRevoked
	case StatusExpired:
		return to == StatusActive || to == StatusRevoked
	case StatusSuspended:
		return to == StatusActive || to == StatusRevoked
	case StatusRevoked:
		return false
	}
	return false
}

// IsExpired reports whether the license's expiry time has passed at now.
// Status is not consulted; callers combine this with Status to decide on
// a lazy expiry flip.
func (l *License) IsExpired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// DaysRemaining returns whole days until expiry at now, never negative.
func (l *License) DaysRemaining(now time.Time) int {
	if l.IsExpired(now) {
		return 0
	}
	return int(l.ExpiresAt.Sub(now).Hours() / 24)
}

// Bound reports whether a hardware token has been bound.
func (l *License) Bound() bool {
	return l.HardwareID != nil && *l.HardwareID != ""
}
