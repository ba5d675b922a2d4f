// Package executor runs the retry and failover loop that binds one inbound
// request to a sequence of credential attempts.
package executor

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/awsl-project/kirod/internal/domain"
	"github.com/awsl-project/kirod/internal/pool"
	"github.com/awsl-project/kirod/internal/repository"
)

const (
	// maxAttemptsPerCredential bounds retries on one credential within a
	// single request.
	maxAttemptsPerCredential = 3
	// maxAttemptsPerRequest bounds total attempts across all credentials.
	maxAttemptsPerRequest = 9

	retryBackoff = 100 * time.Millisecond
)

// Attempt performs one upstream call with the selected credential. A nil
// return completes the request. Transient errors retry the same credential;
// fatal errors fail over; anything else surfaces unchanged.
type Attempt func(ctx context.Context, cred *domain.Credential) error

// Executor drives credential selection and the nested retry budgets.
type Executor struct {
	selector *pool.Selector
	repo     repository.CredentialRepository
}

// New builds an executor over the pool.
func New(selector *pool.Selector, repo repository.CredentialRepository) *Executor {
	return &Executor{selector: selector, repo: repo}
}

// Execute runs attempt with successive credentials until it succeeds, the
// budgets run out, or the pool is exhausted. Every transient or fatal failure
// increments the credential's failure counter; any other error is returned
// at once without accounting. A successful attempt resets the counter. A fatal
// failure, or a credential that used up its retries, is excluded for the
// rest of the request. Client cancellation stops immediately with no
// accounting.
func (e *Executor) Execute(ctx context.Context, attempt Attempt) error {
	exclude := make(map[uint64]bool)
	totalAttempts := 0

	var lastErr error
	for totalAttempts < maxAttemptsPerRequest {
		cred, err := e.selector.Next(exclude)
		if err != nil {
			return err
		}

		credFailed := false
		for credTries := 0; credTries < maxAttemptsPerCredential && totalAttempts < maxAttemptsPerRequest; credTries++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			totalAttempts++

			err := attempt(ctx, cred)
			if err == nil {
				if resetErr := e.repo.ResetFailure(cred.ID); resetErr != nil {
					log.Warnf("executor: reset failure count for credential %d: %v", cred.ID, resetErr)
				}
				return nil
			}

			// Cancellation never counts against the credential.
			if ctx.Err() != nil {
				return ctx.Err()
			}

			lastErr = err
			switch {
			case domain.IsTransient(err):
				log.WithFields(log.Fields{
					"credential": cred.ID,
					"attempt":    totalAttempts,
				}).Debugf("executor: transient upstream failure: %v", err)
				if incErr := e.repo.IncrementFailure(cred.ID); incErr != nil {
					log.Warnf("executor: increment failure count for credential %d: %v", cred.ID, incErr)
				}
				time.Sleep(retryBackoff)
			case domain.IsFatal(err):
				log.WithFields(log.Fields{
					"credential": cred.ID,
					"attempt":    totalAttempts,
				}).Warnf("executor: credential failed fatally: %v", err)
				if incErr := e.repo.IncrementFailure(cred.ID); incErr != nil {
					log.Warnf("executor: increment failure count for credential %d: %v", cred.ID, incErr)
				}
				credFailed = true
			default:
				// Not an upstream classification: surface as-is.
				return err
			}
			if credFailed {
				break
			}
		}

		exclude[cred.ID] = true
	}

	return lastErr
}
