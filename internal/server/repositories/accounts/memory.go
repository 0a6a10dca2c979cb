package accounts

import (
	"context"
	"sort"
	"sync"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// MemoryRepository keeps accounts in process memory. Accounts are copied on
// the way in and out, so callers never share state with the store.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{accounts: make(map[string]*models.Account)}
}

func (r *MemoryRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return a.Clone(), nil
}

func (r *MemoryRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.findFirst(func(a *models.Account) bool {
		return a.Email == email
	})
}

func (r *MemoryRepository) FindByRefreshToken(ctx context.Context, tokenHash string) (*models.Account, error) {
	return r.findFirst(func(a *models.Account) bool {
		return a.RefreshTokenByHash(tokenHash) != nil
	})
}

func (r *MemoryRepository) FindByOneTimeToken(ctx context.Context, tokenHash string, purpose models.Purpose) (*models.Account, error) {
	return r.findFirst(func(a *models.Account) bool {
		return a.OneTimeTokenByHash(tokenHash, purpose) != nil
	})
}

func (r *MemoryRepository) findFirst(match func(*models.Account) bool) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.accounts {
		if match(a) {
			return a.Clone(), nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *MemoryRepository) Create(ctx context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[account.ID]; ok {
		return common.ErrAlreadyExists
	}
	if r.emailTaken(account.Email, account.ID) {
		return common.ErrAlreadyExists
	}

	account.Version = 1
	r.accounts[account.ID] = account.Clone()
	return nil
}

func (r *MemoryRepository) Save(ctx context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.accounts[account.ID]
	if !ok {
		return common.ErrNotFound
	}
	if stored.Version != account.Version {
		return common.ErrConflict
	}
	if r.emailTaken(account.Email, account.ID) {
		return common.ErrAlreadyExists
	}

	next := account.Clone()
	next.Version++
	r.accounts[account.ID] = next
	account.Version = next.Version
	return nil
}

func (r *MemoryRepository) emailTaken(email, exceptID string) bool {
	for id, a := range r.accounts {
		if id != exceptID && a.Email == email {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) List(ctx context.Context) ([]*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		c := a.Clone()
		c.RefreshTokens = nil
		c.OneTimeTokens = nil
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return int64(len(r.accounts)), nil
}
