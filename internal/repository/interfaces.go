package repository

import (
	"time"

	"github.com/awsl-project/kirod/internal/domain"
)

// CredentialRepository is the persistence contract for the credential pool.
// Every mutating method runs in its own transaction; List reads a fresh
// snapshot so admin changes take effect on the next selection.
type CredentialRepository interface {
	// List returns all credentials ordered by (priority ASC, id ASC).
	List() ([]*domain.Credential, error)
	GetByID(id uint64) (*domain.Credential, error)
	// Create assigns the next id, generates a machine id when the caller
	// supplied none, and persists the row.
	Create(c *domain.Credential) error
	Delete(id uint64) error

	// UpdateTokens stores the result of a token refresh. profileArn is only
	// written when non-empty.
	UpdateTokens(id uint64, accessToken string, expiresAt time.Time, profileArn string) error
	SetDisabled(id uint64, disabled bool) error
	SetPriority(id uint64, priority int) error
	IncrementFailure(id uint64) error
	ResetFailure(id uint64) error
	UpdateBalance(id uint64, b *domain.CredentialBalance) error
}
