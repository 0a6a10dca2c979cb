// Package models defines the account aggregate persisted by the account
// stores and mutated by the services.
package models

import (
	"strings"
	"time"
)

// Entity is implemented by every identifiable record.
type Entity interface {
	GetID() string
}

// Role decides what an account may do to other accounts.
type Role string

const (
	RoleUser  Role = "User"
	RoleAdmin Role = "Admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Status tracks e-mail verification. Unverified accounts cannot log in.
type Status string

const (
	StatusUnverified Status = "unverified"
	StatusVerified   Status = "verified"
)

// Account owns its refresh and one-time tokens; they are loaded and saved
// together with it.
type Account struct {
	ID              string
	Email           string
	PasswordHash    string
	Role            Role
	Status          Status
	VerifiedAt      *time.Time
	PasswordResetAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// RefreshTokens are kept in issuance order.
	RefreshTokens []*RefreshToken
	OneTimeTokens []*OneTimeToken

	// Version is compared and incremented by the store on every save.
	Version int64
}

func (a *Account) GetID() string { return a.ID }

func (a *Account) IsVerified() bool {
	return a.Status == StatusVerified
}

// NormalizeEmail lower-cases and trims an address before storage or lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RefreshTokenByHash returns the owned token with the given hash, or nil.
func (a *Account) RefreshTokenByHash(hash string) *RefreshToken {
	for _, t := range a.RefreshTokens {
		if t.TokenHash == hash {
			return t
		}
	}
	return nil
}

func (a *Account) RefreshTokenByID(id string) *RefreshToken {
	for _, t := range a.RefreshTokens {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// ActiveRefreshTokens returns the tokens that are active at now.
func (a *Account) ActiveRefreshTokens(now time.Time) []*RefreshToken {
	var out []*RefreshToken
	for _, t := range a.RefreshTokens {
		if t.IsActive(now) {
			out = append(out, t)
		}
	}
	return out
}

func (a *Account) OneTimeTokenByHash(hash string, purpose Purpose) *OneTimeToken {
	for _, t := range a.OneTimeTokens {
		if t.TokenHash == hash && t.Purpose == purpose {
			return t
		}
	}
	return nil
}

// Clone returns a deep copy, so stores can hand out accounts without sharing
// token slices.
func (a *Account) Clone() *Account {
	c := *a
	if a.VerifiedAt != nil {
		v := *a.VerifiedAt
		c.VerifiedAt = &v
	}
	if a.PasswordResetAt != nil {
		v := *a.PasswordResetAt
		c.PasswordResetAt = &v
	}
	c.RefreshTokens = make([]*RefreshToken, len(a.RefreshTokens))
	for i, t := range a.RefreshTokens {
		c.RefreshTokens[i] = t.Clone()
	}
	c.OneTimeTokens = make([]*OneTimeToken, len(a.OneTimeTokens))
	for i, t := range a.OneTimeTokens {
		c.OneTimeTokens[i] = t.Clone()
	}
	return &c
}
