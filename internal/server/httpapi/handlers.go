package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/gorilla/mux"
	"github.com/samber/oops"
)

// refreshCookieMaxAge is the lifetime of the refresh token cookie.
const refreshCookieMaxAge = 7 * 24 * time.Hour

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type createAccountRequest struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     models.Role `json:"role"`
}

type roleRequest struct {
	Role models.Role `json:"role"`
}

type accountResponse struct {
	ID         string      `json:"id"`
	Email      string      `json:"email"`
	Role       models.Role `json:"role"`
	IsVerified bool        `json:"isVerified"`
	VerifiedAt *time.Time  `json:"verifiedAt,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

type authenticateResponse struct {
	accountResponse
	AccessToken          string    `json:"accessToken"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`
}

type sessionResponse struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedByIP string    `json:"createdByIp"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func toAccount(a *models.Account) accountResponse {
	return accountResponse{
		ID:         a.ID,
		Email:      a.Email,
		Role:       a.Role,
		IsVerified: a.IsVerified(),
		VerifiedAt: a.VerifiedAt,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return oops.Code(common.CodeValidation).Wrap(fmt.Errorf("%w: malformed request body", common.ErrValidation))
	}
	return nil
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     common.RefreshTokenCookieName,
		Value:    token,
		Path:     "/",
		Expires:  s.now().Add(refreshCookieMaxAge),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     common.RefreshTokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// refreshTokenFrom prefers the body value and falls back to the cookie.
func refreshTokenFrom(r *http.Request, body string) string {
	if body != "" {
		return body
	}
	if c, err := r.Cookie(common.RefreshTokenCookieName); err == nil {
		return c.Value
	}
	return ""
}

// optionalBody decodes a JSON body when one is present.
func optionalBody(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decode(r, v)
}

func missingToken() error {
	return oops.Code(common.CodeTokenInvalid).Wrapf(common.ErrTokenInvalid, "token is required")
}

func (s *Server) writePair(w http.ResponseWriter, pair *services.TokenPair) {
	s.setRefreshCookie(w, pair.RefreshToken)
	writeJSON(w, http.StatusOK, authenticateResponse{
		accountResponse:      toAccount(pair.Account),
		AccessToken:          pair.AccessToken,
		AccessTokenExpiresAt: pair.AccessTokenExpiresAt,
	})
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	pair, err := s.sessions.Authenticate(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writePair(w, pair)
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := optionalBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	token := refreshTokenFrom(r, req.RefreshToken)
	if token == "" {
		s.writeError(w, r, missingToken())
		return
	}

	pair, err := s.sessions.Refresh(r.Context(), token, clientIP(r))
	if err != nil {
		switch common.Code(err) {
		case common.CodeTokenInvalid, common.CodeTokenExpired, common.CodeTokenReuseDetected:
			s.clearRefreshCookie(w)
		}
		s.writeError(w, r, err)
		return
	}
	s.writePair(w, pair)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := optionalBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	token := refreshTokenFrom(r, req.Token)
	if token == "" {
		s.writeError(w, r, missingToken())
		return
	}

	if err := s.sessions.Logout(r.Context(), token, clientIP(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out"})
}

func (s *Server) revokeToken(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	var req tokenRequest
	if err := optionalBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	token := refreshTokenFrom(r, req.Token)
	if token == "" {
		s.writeError(w, r, missingToken())
		return
	}

	if err := s.sessions.Revoke(r.Context(), caller, token, clientIP(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Token revoked"})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	a, _, err := s.sessions.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccount(a))
}

func (s *Server) issueVerification(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	if _, err := s.sessions.IssueVerification(r.Context(), caller, mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "Verification email sent"})
}

func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, err := s.sessions.ConfirmVerification(r.Context(), req.Token); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Verification successful, you can now login"})
}

func (s *Server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, err := s.sessions.IssueReset(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "Please check your email for password reset instructions"})
}

func (s *Server) validateResetToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.sessions.ValidateResetToken(r.Context(), req.Token); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Token is valid"})
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.sessions.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset successful, you can now login"})
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	a, err := s.sessions.GetAccount(r.Context(), caller, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(a))
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	list, err := s.sessions.ListAccounts(r.Context(), caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]accountResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAccount(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	var req createAccountRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}

	a, err := s.sessions.CreateAccount(r.Context(), caller, req.Email, req.Password, req.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccount(a))
}

func (s *Server) updateRole(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	var req roleRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	a, err := s.sessions.UpdateRole(r.Context(), caller, mux.Vars(r)["id"], req.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(a))
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	list, err := s.sessions.ListSessions(r.Context(), caller, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]sessionResponse, 0, len(list))
	for _, t := range list {
		out = append(out, sessionResponse{
			ID:          t.ID,
			CreatedAt:   t.CreatedAt,
			ExpiresAt:   t.ExpiresAt,
			CreatedByIP: t.CreatedByIP,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
