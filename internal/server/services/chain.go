package services

import (
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// RefreshTokenChain issues, rotates and revokes the refresh tokens of an
// account. It only mutates the account in memory; persisting it is up to
// the caller.
//
// Each token is Active until it is rotated, revoked or expires, and never
// becomes Active again. Rotation links the old token to its successor
// through ReplacedByID, so every login starts a chain with at most one
// active token.
type RefreshTokenChain struct {
	validity time.Duration
	ttl      time.Duration
	now      func() time.Time
}

// NewRefreshTokenChain creates a chain issuing tokens valid for validity.
// Tokens are pruned ttl after they expire.
func NewRefreshTokenChain(validity, ttl time.Duration) *RefreshTokenChain {
	return &RefreshTokenChain{validity: validity, ttl: ttl, now: time.Now}
}

func (c *RefreshTokenChain) newToken(ip string) (*models.RefreshToken, string, error) {
	raw, err := common.MakeRandHexString(common.TokenBytes)
	if err != nil {
		return nil, "", oops.Code(common.CodeInternal).Wrap(err)
	}

	now := c.now()
	return &models.RefreshToken{
		ID:          uuid.NewString(),
		TokenHash:   common.HashToken(raw),
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.validity),
		CreatedByIP: ip,
	}, raw, nil
}

// IssueInitial starts a new chain for the account. The raw token value is
// returned only here and is never stored.
func (c *RefreshTokenChain) IssueInitial(account *models.Account, ip string) (*models.RefreshToken, string, error) {
	t, raw, err := c.newToken(ip)
	if err != nil {
		return nil, "", err
	}

	c.Prune(account)
	account.RefreshTokens = append(account.RefreshTokens, t)
	return t, raw, nil
}

// Rotate exchanges an active token for its successor.
//
// An expired token fails with TOKEN_EXPIRED whether or not it was revoked.
// Presenting a revoked token is treated as theft: every active token of the
// account is revoked and TOKEN_REUSE_DETECTED is returned. The account has
// been modified in that case and must still be saved.
func (c *RefreshTokenChain) Rotate(account *models.Account, raw, ip string) (*models.RefreshToken, string, error) {
	old := account.RefreshTokenByHash(common.HashToken(raw))
	if old == nil {
		return nil, "", oops.Code(common.CodeTokenInvalid).
			With("account_id", account.ID).
			Wrap(common.ErrTokenInvalid)
	}

	now := c.now()
	if old.IsExpired(now) {
		return nil, "", oops.Code(common.CodeTokenExpired).
			With("account_id", account.ID, "token_id", old.ID).
			Wrap(common.ErrTokenExpired)
	}

	if old.IsRevoked() {
		n := c.RevokeAll(account, ip, common.ReasonReuseDetected)
		return nil, "", oops.Code(common.CodeTokenReuseDetected).
			With("account_id", account.ID, "token_id", old.ID, "revoked", n).
			Wrap(common.ErrTokenReuseDetected)
	}

	next, nextRaw, err := c.newToken(ip)
	if err != nil {
		return nil, "", err
	}

	old.Revoke(now, ip, common.ReasonRotated, next.ID)
	c.Prune(account)
	account.RefreshTokens = append(account.RefreshTokens, next)
	return next, nextRaw, nil
}

// Revoke revokes a single active token. Its successors are left alone.
func (c *RefreshTokenChain) Revoke(account *models.Account, raw, ip, reason string) error {
	t := account.RefreshTokenByHash(common.HashToken(raw))
	if t == nil || !t.IsActive(c.now()) {
		return oops.Code(common.CodeTokenInvalid).
			With("account_id", account.ID).
			Wrap(common.ErrTokenInvalid)
	}

	t.Revoke(c.now(), ip, reason, "")
	return nil
}

// RevokeAll revokes every active token of the account and returns how many
// were revoked.
func (c *RefreshTokenChain) RevokeAll(account *models.Account, ip, reason string) int {
	now := c.now()
	n := 0
	for _, t := range account.RefreshTokens {
		if t.IsActive(now) {
			t.Revoke(now, ip, reason, "")
			n++
		}
	}
	return n
}

// IsTokenActive reports whether raw is an active token of the account.
func (c *RefreshTokenChain) IsTokenActive(account *models.Account, raw string) bool {
	t := account.RefreshTokenByHash(common.HashToken(raw))
	return t != nil && t.IsActive(c.now())
}

// Successor returns the token t was rotated into, or nil.
func (c *RefreshTokenChain) Successor(account *models.Account, t *models.RefreshToken) *models.RefreshToken {
	if t == nil || t.ReplacedByID == "" {
		return nil
	}
	return account.RefreshTokenByID(t.ReplacedByID)
}

// ChainFrom walks successors starting at root, root included.
func (c *RefreshTokenChain) ChainFrom(account *models.Account, root *models.RefreshToken) []*models.RefreshToken {
	var out []*models.RefreshToken
	seen := make(map[string]bool)
	for t := root; t != nil && !seen[t.ID]; t = c.Successor(account, t) {
		seen[t.ID] = true
		out = append(out, t)
	}
	return out
}

// Prune drops tokens that expired at least the TTL ago and returns how many
// were dropped. A revoked token is kept until then so that presenting it
// is still recognised as reuse.
func (c *RefreshTokenChain) Prune(account *models.Account) int {
	now := c.now()
	kept := account.RefreshTokens[:0]
	dropped := 0
	for _, t := range account.RefreshTokens {
		if c.prunable(t, now) {
			dropped++
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(account.RefreshTokens); i++ {
		account.RefreshTokens[i] = nil
	}
	account.RefreshTokens = kept
	return dropped
}

func (c *RefreshTokenChain) prunable(t *models.RefreshToken, now time.Time) bool {
	return t.IsExpired(now) && !now.Before(t.ExpiresAt.Add(c.ttl))
}
