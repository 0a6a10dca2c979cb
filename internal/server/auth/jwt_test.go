package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndVerify_Success(t *testing.T) {
	t.Parallel()

	iss := NewIssuer([]byte("super-secret"), "k1", time.Hour)

	tok, err := iss.Issue("user-123", models.RoleAdmin)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if tok.Token == "" || tok.ExpiresAt.IsZero() {
		t.Fatalf("unexpected token: %+v", tok)
	}

	claims, err := iss.Verify(tok.Token)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if claims.AccountID() != "user-123" {
		t.Fatalf("subject mismatch: got %q", claims.AccountID())
	}
	if claims.Role != models.RoleAdmin {
		t.Fatalf("role mismatch: got %q", claims.Role)
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		t.Fatalf("iat/exp must be set")
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Fatalf("lifetime: got %v want 1h", got)
	}
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	iss := NewIssuer([]byte("secret"), "k1", time.Minute)
	iss.now = func() time.Time { return time.Now().Add(-time.Hour) }

	tok, err := iss.Issue("u1", models.RoleUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	iss.now = time.Now
	_, err = iss.Verify(tok.Token)
	if !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if !errors.Is(err, common.ErrTokenInvalid) {
		t.Fatalf("expired token must also be invalid, got %v", err)
	}
	if common.Code(err) != common.CodeTokenExpired {
		t.Fatalf("code: got %q", common.Code(err))
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := NewIssuer([]byte("right-secret"), "k1", time.Hour).Issue("u2", models.RoleUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	_, err = NewIssuer([]byte("wrong-secret"), "k1", time.Hour).Verify(tok.Token)
	if !errors.Is(err, common.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerify_UnknownKeyID(t *testing.T) {
	t.Parallel()

	secret := []byte("shared")
	tok, err := NewIssuer(secret, "old", time.Hour).Issue("u3", models.RoleUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	_, err = NewIssuer(secret, "new", time.Hour).Verify(tok.Token)
	if !errors.Is(err, common.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerify_UnexpectedAlgorithm(t *testing.T) {
	t.Parallel()

	secret := []byte("shared")
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u4",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: models.RoleUser,
	})
	token.Header["kid"] = "k1"
	s, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = NewIssuer(secret, "k1", time.Hour).Verify(s)
	if !errors.Is(err, common.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerify_NoneAlgorithm(t *testing.T) {
	t.Parallel()

	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u5",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: models.RoleAdmin,
	})
	token.Header["kid"] = "k1"
	s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = NewIssuer([]byte("k"), "k1", time.Hour).Verify(s)
	if !errors.Is(err, common.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerify_MalformedString(t *testing.T) {
	t.Parallel()

	_, err := NewIssuer([]byte("k"), "k1", time.Hour).Verify("not.a.jwt")
	if !errors.Is(err, common.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerify_MissingRole(t *testing.T) {
	t.Parallel()

	secret := []byte("shared")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u6",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	token.Header["kid"] = "k1"
	s, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = NewIssuer(secret, "k1", time.Hour).Verify(s)
	if !errors.Is(err, common.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}
