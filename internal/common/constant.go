package common

// RefreshTokenCookieName is the HTTP-only cookie carrying the refresh token.
const RefreshTokenCookieName = "refreshToken"

// Revocation reasons recorded on refresh tokens.
const (
	ReasonRotated       = "rotated"
	ReasonReuseDetected = "reuse detected"
	ReasonLogout        = "logout"
	ReasonRevoked       = "revoked"
	ReasonPasswordReset = "password reset"
)
