package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awsl-project/kirod/internal/domain"
	"github.com/awsl-project/kirod/internal/repository"
)

func testRepo(t *testing.T) repository.CredentialRepository {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewCredentialRepository(db)
}

func socialCred(priority int) *domain.Credential {
	return &domain.Credential{
		RefreshToken: "refresh-token",
		AuthMethod:   domain.AuthMethodSocial,
		Priority:     priority,
	}
}

func TestCreateAssignsIDAndMachineID(t *testing.T) {
	repo := testRepo(t)

	c := socialCred(0)
	require.NoError(t, repo.Create(c))
	assert.NotZero(t, c.ID)
	assert.Regexp(t, "^[0-9a-f]{64}$", c.MachineID)

	// A supplied machine id is kept verbatim.
	c2 := socialCred(0)
	c2.MachineID = "00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff"
	require.NoError(t, repo.Create(c2))
	stored, err := repo.GetByID(c2.ID)
	require.NoError(t, err)
	assert.Equal(t, c2.MachineID, stored.MachineID)
}

func TestCreateValidatesIdcPair(t *testing.T) {
	repo := testRepo(t)

	c := &domain.Credential{RefreshToken: "rt", AuthMethod: domain.AuthMethodIdC}
	assert.ErrorIs(t, repo.Create(c), domain.ErrInvalidInput)

	c.ClientID = "id"
	c.ClientSecret = "secret"
	require.NoError(t, repo.Create(c))

	stored, err := repo.GetByID(c.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ClientID)
	assert.NotEmpty(t, stored.ClientSecret)
}

func TestCreateRejectsMissingRefreshToken(t *testing.T) {
	repo := testRepo(t)
	err := repo.Create(&domain.Credential{AuthMethod: domain.AuthMethodSocial})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

// Duplicate machine ids get distinct rows and ids.
func TestCreateAllowsDuplicateMachineID(t *testing.T) {
	repo := testRepo(t)

	machineID := "11ff11ff11ff11ff11ff11ff11ff11ff11ff11ff11ff11ff11ff11ff11ff11ff"
	a := socialCred(0)
	a.MachineID = machineID
	b := socialCred(1)
	b.MachineID = machineID

	require.NoError(t, repo.Create(a))
	require.NoError(t, repo.Create(b))
	assert.NotEqual(t, a.ID, b.ID)
}

func TestListOrderedByPriorityThenID(t *testing.T) {
	repo := testRepo(t)

	high := socialCred(5)
	low1 := socialCred(0)
	low2 := socialCred(0)
	require.NoError(t, repo.Create(high))
	require.NoError(t, repo.Create(low1))
	require.NoError(t, repo.Create(low2))

	creds, err := repo.List()
	require.NoError(t, err)
	require.Len(t, creds, 3)
	assert.Equal(t, low1.ID, creds[0].ID)
	assert.Equal(t, low2.ID, creds[1].ID)
	assert.Equal(t, high.ID, creds[2].ID)
}

func TestUpdateTokens(t *testing.T) {
	repo := testRepo(t)
	c := socialCred(0)
	require.NoError(t, repo.Create(c))

	expires := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, repo.UpdateTokens(c.ID, "access", expires, "arn:test"))

	stored, err := repo.GetByID(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "access", stored.AccessToken)
	require.NotNil(t, stored.ExpiresAt)
	assert.Equal(t, expires.UnixMilli(), stored.ExpiresAt.UnixMilli())
	assert.Equal(t, "arn:test", stored.ProfileArn)

	// An empty profile arn leaves the stored one alone.
	require.NoError(t, repo.UpdateTokens(c.ID, "access2", expires, ""))
	stored, err = repo.GetByID(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "arn:test", stored.ProfileArn)
}

func TestFailureCounting(t *testing.T) {
	repo := testRepo(t)
	c := socialCred(0)
	require.NoError(t, repo.Create(c))

	require.NoError(t, repo.IncrementFailure(c.ID))
	require.NoError(t, repo.IncrementFailure(c.ID))

	stored, err := repo.GetByID(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.FailureCount)

	require.NoError(t, repo.ResetFailure(c.ID))
	stored, err = repo.GetByID(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FailureCount)
}

func TestSetDisabledAndPriority(t *testing.T) {
	repo := testRepo(t)
	c := socialCred(0)
	require.NoError(t, repo.Create(c))

	require.NoError(t, repo.SetDisabled(c.ID, true))
	require.NoError(t, repo.SetPriority(c.ID, 7))

	stored, err := repo.GetByID(c.ID)
	require.NoError(t, err)
	assert.True(t, stored.Disabled)
	assert.Equal(t, 7, stored.Priority)

	assert.ErrorIs(t, repo.SetPriority(c.ID, -1), domain.ErrInvalidInput)
}

func TestDeleteIsHard(t *testing.T) {
	repo := testRepo(t)
	c := socialCred(0)
	require.NoError(t, repo.Create(c))

	require.NoError(t, repo.Delete(c.ID))
	_, err := repo.GetByID(c.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(c.ID), domain.ErrNotFound)
}

func TestUpdateBalance(t *testing.T) {
	repo := testRepo(t)
	c := socialCred(0)
	require.NoError(t, repo.Create(c))

	reset := time.Now().Add(72 * time.Hour).Truncate(time.Millisecond)
	require.NoError(t, repo.UpdateBalance(c.ID, &domain.CredentialBalance{
		SubscriptionTitle: "Pro",
		CurrentUsage:      12.5,
		UsageLimit:        500,
		NextResetAt:       &reset,
	}))

	stored, err := repo.GetByID(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pro", stored.SubscriptionTitle)
	assert.Equal(t, 12.5, stored.CurrentUsage)
	assert.Equal(t, 500.0, stored.UsageLimit)
	require.NotNil(t, stored.NextResetAt)
	assert.Equal(t, reset.UnixMilli(), stored.NextResetAt.UnixMilli())
}

func TestMutationsOnMissingRow(t *testing.T) {
	repo := testRepo(t)
	assert.ErrorIs(t, repo.IncrementFailure(999), domain.ErrNotFound)
	assert.ErrorIs(t, repo.SetDisabled(999, true), domain.ErrNotFound)
}
