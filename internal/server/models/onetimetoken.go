package models

import "time"

// Purpose distinguishes one-time tokens issued for different flows.
type Purpose string

const (
	PurposeVerification  Purpose = "verification"
	PurposePasswordReset Purpose = "password_reset"
)

func (p Purpose) Valid() bool {
	return p == PurposeVerification || p == PurposePasswordReset
}

// OneTimeToken is a single-use token for e-mail verification or password
// reset. Only the hash of the raw value is stored.
type OneTimeToken struct {
	ID         string
	Purpose    Purpose
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

func (t *OneTimeToken) GetID() string { return t.ID }

func (t *OneTimeToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t *OneTimeToken) IsConsumed() bool {
	return t.ConsumedAt != nil
}

// IsOutstanding reports whether the token can still be consumed.
func (t *OneTimeToken) IsOutstanding(now time.Time) bool {
	return !t.IsConsumed() && !t.IsExpired(now)
}

func (t *OneTimeToken) Consume(now time.Time) {
	if t.ConsumedAt != nil {
		return
	}
	at := now
	t.ConsumedAt = &at
}

func (t *OneTimeToken) Clone() *OneTimeToken {
	c := *t
	if t.ConsumedAt != nil {
		at := *t.ConsumedAt
		c.ConsumedAt = &at
	}
	return &c
}
