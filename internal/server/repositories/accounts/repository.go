// Package accounts contains the account stores. An account is loaded and
// saved together with its refresh and one-time tokens, and every save is
// checked against the version the caller loaded.
package accounts

import (
	"context"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

type Repository interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
	// FindByEmail expects a normalized address.
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByRefreshToken(ctx context.Context, tokenHash string) (*models.Account, error)
	FindByOneTimeToken(ctx context.Context, tokenHash string, purpose models.Purpose) (*models.Account, error)

	// Create stores a new account with version 1. A taken e-mail yields
	// common.ErrAlreadyExists.
	Create(ctx context.Context, account *models.Account) error
	// Save replaces the stored account if its version still equals
	// account.Version and bumps account.Version on success. A stale
	// version yields common.ErrConflict.
	Save(ctx context.Context, account *models.Account) error

	// List returns every account ordered by creation time, without token
	// collections.
	List(ctx context.Context) ([]*models.Account, error)
	Count(ctx context.Context) (int64, error)
}
