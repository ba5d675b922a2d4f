// Package pool selects credentials for outbound requests.
package pool

import (
	"github.com/awsl-project/kirod/internal/domain"
	"github.com/awsl-project/kirod/internal/repository"
)

// maxFailures is the failure count at which a credential stops being
// selected. The counter only skips selection; it never flips the disabled
// flag, which stays an admin decision.
const maxFailures = 3

// Selector picks the next credential to try for a request.
type Selector struct {
	repo repository.CredentialRepository
}

// NewSelector builds a selector over the credential store.
func NewSelector(repo repository.CredentialRepository) *Selector {
	return &Selector{repo: repo}
}

// Next returns the eligible credential with the lowest (priority, id) whose
// id is not in exclude. It reads a fresh snapshot on every call so admin
// mutations take effect immediately. Returns domain.ErrPoolExhausted when
// nothing remains.
func (s *Selector) Next(exclude map[uint64]bool) (*domain.Credential, error) {
	creds, err := s.repo.List()
	if err != nil {
		return nil, err
	}

	// List is already ordered by (priority ASC, id ASC).
	for _, c := range creds {
		if c.Disabled || exclude[c.ID] || c.FailureCount >= maxFailures {
			continue
		}
		return c, nil
	}
	return nil, domain.ErrPoolExhausted
}
