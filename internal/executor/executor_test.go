package executor

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awsl-project/kirod/internal/domain"
	"github.com/awsl-project/kirod/internal/pool"
)

type fakeRepo struct {
	creds map[uint64]*domain.Credential
}

func newFakeRepo(creds ...*domain.Credential) *fakeRepo {
	r := &fakeRepo{creds: make(map[uint64]*domain.Credential)}
	for _, c := range creds {
		r.creds[c.ID] = c
	}
	return r
}

func (r *fakeRepo) List() ([]*domain.Credential, error) {
	out := make([]*domain.Credential, 0, len(r.creds))
	for _, c := range r.creds {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *fakeRepo) GetByID(id uint64) (*domain.Credential, error) {
	c, ok := r.creds[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (r *fakeRepo) Create(c *domain.Credential) error { r.creds[c.ID] = c; return nil }
func (r *fakeRepo) Delete(id uint64) error            { delete(r.creds, id); return nil }

func (r *fakeRepo) UpdateTokens(id uint64, token string, expiresAt time.Time, arn string) error {
	return nil
}

func (r *fakeRepo) SetDisabled(id uint64, d bool) error { r.creds[id].Disabled = d; return nil }
func (r *fakeRepo) SetPriority(id uint64, p int) error  { r.creds[id].Priority = p; return nil }
func (r *fakeRepo) IncrementFailure(id uint64) error    { r.creds[id].FailureCount++; return nil }
func (r *fakeRepo) ResetFailure(id uint64) error        { r.creds[id].FailureCount = 0; return nil }
func (r *fakeRepo) UpdateBalance(id uint64, b *domain.CredentialBalance) error { return nil }

func cred(id uint64, priority int) *domain.Credential {
	return &domain.Credential{ID: id, RefreshToken: "rt", AuthMethod: domain.AuthMethodSocial, Priority: priority}
}

func newExecutor(repo *fakeRepo) *Executor {
	return New(pool.NewSelector(repo), repo)
}

func TestExecuteSuccessResetsFailureCount(t *testing.T) {
	c := cred(1, 0)
	c.FailureCount = 2
	repo := newFakeRepo(c)

	attempts := 0
	err := newExecutor(repo).Execute(context.Background(), func(ctx context.Context, cred *domain.Credential) error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, c.FailureCount)
}

// Three transient failures exhaust the single credential and the pool.
func TestExecutePerCredentialCap(t *testing.T) {
	c := cred(1, 0)
	repo := newFakeRepo(c)

	attempts := 0
	err := newExecutor(repo).Execute(context.Background(), func(ctx context.Context, cred *domain.Credential) error {
		attempts++
		return domain.NewTransientError(errors.New("status 500"), "upstream server error")
	})

	assert.ErrorIs(t, err, domain.ErrPoolExhausted)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, c.FailureCount)

	// The next request skips the failed credential immediately.
	attempts = 0
	err = newExecutor(repo).Execute(context.Background(), func(ctx context.Context, cred *domain.Credential) error {
		attempts++
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrPoolExhausted)
	assert.Zero(t, attempts)
}

func TestExecuteFatalFailsOver(t *testing.T) {
	c0 := cred(1, 0)
	c1 := cred(2, 1)
	repo := newFakeRepo(c0, c1)

	var used []uint64
	err := newExecutor(repo).Execute(context.Background(), func(ctx context.Context, cred *domain.Credential) error {
		used = append(used, cred.ID)
		if cred.ID == 1 {
			return domain.NewFatalError(errors.New("status 401"), "credential rejected")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, used)
	assert.Equal(t, 1, c0.FailureCount)
	assert.Equal(t, 0, c1.FailureCount)
}

// Nine attempts is the hard ceiling across all credentials.
func TestExecuteTotalBudget(t *testing.T) {
	repo := newFakeRepo(cred(1, 0), cred(2, 1), cred(3, 2), cred(4, 3))

	attempts := 0
	perCred := make(map[uint64]int)
	err := newExecutor(repo).Execute(context.Background(), func(ctx context.Context, cred *domain.Credential) error {
		attempts++
		perCred[cred.ID]++
		return domain.NewTransientError(errors.New("status 503"), "upstream server error")
	})

	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, 9, attempts)
	for id, n := range perCred {
		assert.LessOrEqual(t, n, 3, "credential %d", id)
	}
}

func TestExecuteNonUpstreamErrorSurfacesImmediately(t *testing.T) {
	c := cred(1, 0)
	repo := newFakeRepo(c)
	sentinel := errors.New("translator exploded")

	attempts := 0
	err := newExecutor(repo).Execute(context.Background(), func(ctx context.Context, cred *domain.Credential) error {
		attempts++
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
	// Unclassified errors carry no failure accounting.
	assert.Equal(t, 0, c.FailureCount)
}

func TestExecuteCancellationSkipsAccounting(t *testing.T) {
	c := cred(1, 0)
	repo := newFakeRepo(c)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := newExecutor(repo).Execute(ctx, func(ctx context.Context, cred *domain.Credential) error {
		attempts++
		cancel()
		return domain.NewTransientError(errors.New("interrupted"), "client went away")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, c.FailureCount)
}

func TestExecuteEmptyPool(t *testing.T) {
	err := newExecutor(newFakeRepo()).Execute(context.Background(), func(ctx context.Context, cred *domain.Credential) error {
		t.Fatal("attempt must not run")
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrPoolExhausted)
}
