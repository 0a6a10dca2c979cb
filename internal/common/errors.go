// Package common defines shared constants and sentinel errors used across
// the server layers. Callers should use errors.Is to match these values, or
// Code to obtain the taxonomy code a transport maps to a status.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict is returned by a store when an account was saved by someone
	// else since it was loaded. Callers reload and retry.
	ErrConflict = errors.New("conflict")

	// Service-level errors.
	ErrInternal           = errors.New("internal error")
	ErrValidation         = errors.New("validation error")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountUnverified  = errors.New("account unverified")
	ErrUnauthorized       = errors.New("unauthorized")

	// Token lifecycle errors.
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenReuseDetected = errors.New("token reuse detected")
	ErrTokenAlreadyUsed   = errors.New("token already used")
)

// Taxonomy codes reported to transports.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountUnverified  = "ACCOUNT_UNVERIFIED"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeTokenReuseDetected = "TOKEN_REUSE_DETECTED"
	CodeTokenAlreadyUsed   = "TOKEN_ALREADY_USED"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeConflict           = "CONFLICT"
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeValidation         = "VALIDATION"
	CodeInternal           = "INTERNAL"
)

// Order matters: an expired access token matches both ErrTokenExpired and
// ErrTokenInvalid and must report the more specific code.
var codes = []struct {
	err  error
	code string
}{
	{ErrTokenReuseDetected, CodeTokenReuseDetected},
	{ErrTokenAlreadyUsed, CodeTokenAlreadyUsed},
	{ErrTokenExpired, CodeTokenExpired},
	{ErrTokenInvalid, CodeTokenInvalid},
	{ErrInvalidCredentials, CodeInvalidCredentials},
	{ErrAccountUnverified, CodeAccountUnverified},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrConflict, CodeConflict},
	{ErrNotFound, CodeNotFound},
	{ErrAlreadyExists, CodeAlreadyExists},
	{ErrValidation, CodeValidation},
}

// Code returns the taxonomy code of err, or CodeInternal when err does not
// wrap any of the known sentinels. Code(nil) is "".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
