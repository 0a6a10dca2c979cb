// Package auth holds the credential and token primitives of the server:
// password hashing, access-token minting and role checks.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the standard claims plus the account role.
type Claims struct {
	jwt.RegisteredClaims
	Role models.Role `json:"role"`
}

// AccountID returns the subject claim.
func (c *Claims) AccountID() string {
	return c.Subject
}

// AccessToken is a signed access token and the moment it stops being valid.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// Issuer signs and verifies HS256 access tokens with a single key. The key
// and its id are fixed for the life of the process.
type Issuer struct {
	secretKey        []byte
	keyID            string
	validityDuration time.Duration
	now              func() time.Time
}

// NewIssuer creates an Issuer whose tokens carry keyID in their header and
// stay valid for validityDuration.
func NewIssuer(secretKey []byte, keyID string, validityDuration time.Duration) *Issuer {
	return &Issuer{
		secretKey:        secretKey,
		keyID:            keyID,
		validityDuration: validityDuration,
		now:              time.Now,
	}
}

func (i *Issuer) Issue(accountID string, role models.Role) (AccessToken, error) {
	now := i.now()
	exp := now.Add(i.validityDuration)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role: role,
	})
	token.Header["kid"] = i.keyID

	tokenString, err := token.SignedString(i.secretKey)
	if err != nil {
		return AccessToken{}, err
	}

	return AccessToken{Token: tokenString, ExpiresAt: exp}, nil
}

// Verify returns the claims of a valid token. Every failure wraps
// common.ErrTokenInvalid; an expired token also wraps common.ErrTokenExpired.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if kid, _ := t.Header["kid"].(string); kid != i.keyID {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return i.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", common.ErrTokenInvalid, common.ErrTokenExpired)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrTokenInvalid, err)
	}

	if !token.Valid || claims.Subject == "" || !claims.Role.Valid() {
		return nil, common.ErrTokenInvalid
	}

	return claims, nil
}
