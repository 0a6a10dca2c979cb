package models

import "time"

// RefreshToken is a long-lived, opaque, rotating token owned by an Account.
// Only the SHA-256 hash of the raw value is kept.
type RefreshToken struct {
	ID          string
	TokenHash   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	CreatedByIP string

	RevokedAt     *time.Time
	RevokedByIP   string
	RevokedReason string
	// ReplacedByID points at the token this one was rotated into.
	ReplacedByID string
}

func (t *RefreshToken) GetID() string { return t.ID }

// IsExpired reports whether the token is past its expiry at now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsActive is true iff the token is neither revoked nor expired.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now)
}

// Revoke marks the token revoked. A token that is already revoked keeps its
// original revocation record.
func (t *RefreshToken) Revoke(now time.Time, ip, reason, replacedBy string) {
	if t.RevokedAt != nil {
		return
	}
	at := now
	t.RevokedAt = &at
	t.RevokedByIP = ip
	t.RevokedReason = reason
	if replacedBy != "" {
		t.ReplacedByID = replacedBy
	}
}

// Clone returns a deep copy.
func (t *RefreshToken) Clone() *RefreshToken {
	c := *t
	if t.RevokedAt != nil {
		at := *t.RevokedAt
		c.RevokedAt = &at
	}
	return &c
}
