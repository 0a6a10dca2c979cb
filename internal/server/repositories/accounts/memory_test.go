package accounts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount(id, email string, created time.Time) *models.Account {
	return &models.Account{
		ID:        id,
		Email:     email,
		Role:      models.RoleUser,
		Status:    models.StatusUnverified,
		CreatedAt: created,
		UpdatedAt: created,
		RefreshTokens: []*models.RefreshToken{
			{ID: id + "-r1", TokenHash: id + "-rh", ExpiresAt: created.Add(time.Hour)},
		},
		OneTimeTokens: []*models.OneTimeToken{
			{ID: id + "-o1", TokenHash: id + "-oh", Purpose: models.PurposeVerification, ExpiresAt: created.Add(time.Hour)},
		},
	}
}

func TestMemoryRepository_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	now := time.Now()

	a := newAccount("a1", "alice@example.com", now)
	require.NoError(t, r.Create(ctx, a))
	assert.Equal(t, int64(1), a.Version)

	got, err := r.FindByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, a, got)

	got, err = r.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)

	got, err = r.FindByRefreshToken(ctx, "a1-rh")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)

	got, err = r.FindByOneTimeToken(ctx, "a1-oh", models.PurposeVerification)
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)

	_, err = r.FindByOneTimeToken(ctx, "a1-oh", models.PurposePasswordReset)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = r.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemoryRepository_CreateDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	require.NoError(t, r.Create(ctx, newAccount("a1", "dup@example.com", time.Now())))
	err := r.Create(ctx, newAccount("a2", "dup@example.com", time.Now()))
	assert.ErrorIs(t, err, common.ErrAlreadyExists)

	err = r.Create(ctx, newAccount("a1", "other@example.com", time.Now()))
	assert.ErrorIs(t, err, common.ErrAlreadyExists)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	a := newAccount("a1", "alice@example.com", time.Now())
	require.NoError(t, r.Create(ctx, a))

	// caller mutations do not leak into the store
	a.RefreshTokens[0].Revoke(time.Now(), "", "logout", "")
	got, err := r.FindByID(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, got.RefreshTokens[0].RevokedAt)

	got.Email = "changed@example.com"
	again, err := r.FindByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", again.Email)
}

func TestMemoryRepository_SaveVersionCheck(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	require.NoError(t, r.Create(ctx, newAccount("a1", "alice@example.com", time.Now())))

	first, err := r.FindByID(ctx, "a1")
	require.NoError(t, err)
	second, err := r.FindByID(ctx, "a1")
	require.NoError(t, err)

	first.Status = models.StatusVerified
	require.NoError(t, r.Save(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Role = models.RoleAdmin
	err = r.Save(ctx, second)
	assert.ErrorIs(t, err, common.ErrConflict)
	assert.Equal(t, int64(1), second.Version)

	stored, err := r.FindByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, stored.Status)
	assert.Equal(t, models.RoleUser, stored.Role)
	assert.Equal(t, int64(2), stored.Version)

	err = r.Save(ctx, newAccount("ghost", "ghost@example.com", time.Now()))
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemoryRepository_ConcurrentSaveOneWins(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	require.NoError(t, r.Create(ctx, newAccount("a1", "alice@example.com", time.Now())))

	const n = 8
	loaded := make([]*models.Account, n)
	for i := range loaded {
		a, err := r.FindByID(ctx, "a1")
		require.NoError(t, err)
		loaded[i] = a
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Save(ctx, loaded[i])
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, common.ErrConflict)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestMemoryRepository_ListAndCount(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	base := time.Now()

	require.NoError(t, r.Create(ctx, newAccount("b", "b@example.com", base.Add(time.Minute))))
	require.NoError(t, r.Create(ctx, newAccount("a", "a@example.com", base)))

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Empty(t, list[0].RefreshTokens)
	assert.Empty(t, list[0].OneTimeTokens)
}

var _ Repository = (*MemoryRepository)(nil)
