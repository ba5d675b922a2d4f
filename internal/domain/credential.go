package domain

import (
	"fmt"
	"time"
)

// AuthMethod identifies how a credential obtains access tokens.
type AuthMethod string

const (
	AuthMethodSocial AuthMethod = "social"
	AuthMethodIdC    AuthMethod = "idc"
)

// Credential is one entry of the upstream credential pool. A credential is
// sufficient to obtain a Kiro access token via OAuth refresh, plus the
// metadata the selector uses to order and exclude entries.
type Credential struct {
	ID        uint64
	CreatedAt time.Time
	UpdatedAt time.Time

	RefreshToken string
	AccessToken  string
	ExpiresAt    *time.Time
	ProfileArn   string

	AuthMethod   AuthMethod
	ClientID     string
	ClientSecret string

	// MachineID is the 64-hex device fingerprint bound to this credential.
	// Once assigned it never changes.
	MachineID string

	Priority     int
	Disabled     bool
	FailureCount int

	// Cached balance fields, refreshed on demand via the balance endpoint.
	SubscriptionTitle string
	CurrentUsage      float64
	UsageLimit        float64
	NextResetAt       *time.Time
}

// CredentialBalance is the on-demand snapshot of an account's quota,
// cached on the credential row.
type CredentialBalance struct {
	SubscriptionTitle string
	CurrentUsage      float64
	UsageLimit        float64
	NextResetAt       *time.Time
}

// Validate checks the structural invariants that must hold before a
// credential is persisted.
func (c *Credential) Validate() error {
	if c.RefreshToken == "" {
		return fmt.Errorf("%w: refresh_token is required", ErrInvalidInput)
	}
	switch c.AuthMethod {
	case AuthMethodSocial:
	case AuthMethodIdC:
		if c.ClientID == "" || c.ClientSecret == "" {
			return fmt.Errorf("%w: idc credentials require client_id and client_secret", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown auth_method %q", ErrInvalidInput, c.AuthMethod)
	}
	if c.Priority < 0 {
		return fmt.Errorf("%w: priority must be non-negative", ErrInvalidInput)
	}
	return nil
}

// TokenValid reports whether the cached access token is still usable at the
// given instant, keeping a safety margin before the recorded expiry.
func (c *Credential) TokenValid(now time.Time, margin time.Duration) bool {
	if c.AccessToken == "" || c.ExpiresAt == nil {
		return false
	}
	return now.Before(c.ExpiresAt.Add(-margin))
}
