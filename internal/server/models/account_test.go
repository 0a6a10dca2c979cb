package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshToken_States(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tok := &RefreshToken{ID: "t1", ExpiresAt: now.Add(time.Hour)}
	assert.True(t, tok.IsActive(now))
	assert.False(t, tok.IsExpired(now))

	assert.True(t, tok.IsExpired(now.Add(time.Hour)), "expiry is inclusive")
	assert.False(t, tok.IsActive(now.Add(2*time.Hour)))

	tok.Revoke(now, "10.0.0.1", "rotated", "t2")
	assert.True(t, tok.IsRevoked())
	assert.False(t, tok.IsActive(now))
	assert.Equal(t, "t2", tok.ReplacedByID)

	// second revoke keeps the first record
	tok.Revoke(now.Add(time.Minute), "10.0.0.2", "logout", "")
	assert.Equal(t, "rotated", tok.RevokedReason)
	assert.Equal(t, "10.0.0.1", tok.RevokedByIP)
	assert.Equal(t, now, *tok.RevokedAt)
}

func TestOneTimeToken_Consume(t *testing.T) {
	now := time.Now()
	tok := &OneTimeToken{Purpose: PurposePasswordReset, ExpiresAt: now.Add(time.Hour)}
	assert.True(t, tok.IsOutstanding(now))

	tok.Consume(now)
	assert.True(t, tok.IsConsumed())
	assert.False(t, tok.IsOutstanding(now))

	first := *tok.ConsumedAt
	tok.Consume(now.Add(time.Minute))
	assert.Equal(t, first, *tok.ConsumedAt)
}

func TestAccount_Clone_IsDeep(t *testing.T) {
	now := time.Now()
	orig := &Account{
		ID:            "a1",
		Email:         "a@b.c",
		VerifiedAt:    &now,
		RefreshTokens: []*RefreshToken{{ID: "r1", ExpiresAt: now.Add(time.Hour)}},
		OneTimeTokens: []*OneTimeToken{{ID: "o1", Purpose: PurposeVerification}},
		Version:       3,
	}

	c := orig.Clone()
	require.Equal(t, orig, c)

	c.RefreshTokens[0].Revoke(now, "", "logout", "")
	c.OneTimeTokens[0].Consume(now)
	c.RefreshTokens = append(c.RefreshTokens, &RefreshToken{ID: "r2"})
	*c.VerifiedAt = now.Add(time.Hour)

	assert.Nil(t, orig.RefreshTokens[0].RevokedAt)
	assert.Nil(t, orig.OneTimeTokens[0].ConsumedAt)
	assert.Len(t, orig.RefreshTokens, 1)
	assert.Equal(t, now, *orig.VerifiedAt)
}

func TestAccount_Lookups(t *testing.T) {
	now := time.Now()
	a := &Account{
		RefreshTokens: []*RefreshToken{
			{ID: "r1", TokenHash: "h1", ExpiresAt: now.Add(time.Hour)},
			{ID: "r2", TokenHash: "h2", ExpiresAt: now.Add(-time.Hour)},
		},
		OneTimeTokens: []*OneTimeToken{
			{ID: "o1", TokenHash: "x", Purpose: PurposeVerification},
		},
	}

	assert.Equal(t, "r1", a.RefreshTokenByHash("h1").ID)
	assert.Nil(t, a.RefreshTokenByHash("nope"))
	assert.Equal(t, "r2", a.RefreshTokenByID("r2").ID)
	assert.Len(t, a.ActiveRefreshTokens(now), 1)

	assert.NotNil(t, a.OneTimeTokenByHash("x", PurposeVerification))
	assert.Nil(t, a.OneTimeTokenByHash("x", PurposePasswordReset))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
}

func TestRoleAndPurposeValid(t *testing.T) {
	assert.True(t, RoleAdmin.Valid())
	assert.True(t, RoleUser.Valid())
	assert.False(t, Role("root").Valid())
	assert.True(t, PurposeVerification.Valid())
	assert.False(t, Purpose("other").Valid())
}
