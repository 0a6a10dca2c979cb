package services

import (
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// OneTimeTokens manages single-use verification and password-reset tokens.
// An account holds at most one outstanding token per purpose: issuing a new
// one consumes the earlier ones.
type OneTimeTokens struct {
	validity time.Duration
	now      func() time.Time
}

func NewOneTimeTokens(validity time.Duration) *OneTimeTokens {
	return &OneTimeTokens{validity: validity, now: time.Now}
}

func (o *OneTimeTokens) IssueVerification(account *models.Account) (string, error) {
	return o.issue(account, models.PurposeVerification)
}

func (o *OneTimeTokens) IssueReset(account *models.Account) (string, error) {
	return o.issue(account, models.PurposePasswordReset)
}

func (o *OneTimeTokens) issue(account *models.Account, purpose models.Purpose) (string, error) {
	raw, err := common.MakeRandHexString(common.TokenBytes)
	if err != nil {
		return "", oops.Code(common.CodeInternal).Wrap(err)
	}

	now := o.now()

	// expired tokens can never be used again
	kept := account.OneTimeTokens[:0]
	for _, t := range account.OneTimeTokens {
		if t.IsExpired(now) {
			continue
		}
		if t.Purpose == purpose {
			t.Consume(now)
		}
		kept = append(kept, t)
	}
	account.OneTimeTokens = kept

	account.OneTimeTokens = append(account.OneTimeTokens, &models.OneTimeToken{
		ID:        uuid.NewString(),
		Purpose:   purpose,
		TokenHash: common.HashToken(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(o.validity),
	})
	return raw, nil
}

// Validate checks raw without consuming it.
func (o *OneTimeTokens) Validate(account *models.Account, raw string, purpose models.Purpose) (*models.OneTimeToken, error) {
	t := account.OneTimeTokenByHash(common.HashToken(raw), purpose)
	if t == nil {
		return nil, oops.Code(common.CodeTokenInvalid).
			With("account_id", account.ID, "purpose", purpose).
			Wrap(common.ErrTokenInvalid)
	}
	if t.IsConsumed() {
		return nil, oops.Code(common.CodeTokenAlreadyUsed).
			With("account_id", account.ID, "purpose", purpose).
			Wrap(common.ErrTokenAlreadyUsed)
	}
	if t.IsExpired(o.now()) {
		return nil, oops.Code(common.CodeTokenExpired).
			With("account_id", account.ID, "purpose", purpose).
			Wrap(common.ErrTokenExpired)
	}
	return t, nil
}

// Consume validates raw and marks it used.
func (o *OneTimeTokens) Consume(account *models.Account, raw string, purpose models.Purpose) error {
	t, err := o.Validate(account, raw, purpose)
	if err != nil {
		return err
	}
	t.Consume(o.now())
	return nil
}
