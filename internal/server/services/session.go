// Package services implements the account session logic: credential checks,
// refresh token rotation, one-time token flows and account administration.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/mailer"
	"github.com/dmitrijs2005/authkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/accounts"
	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Hasher is the password hasher used by the service. DummyHash backs the
// verification performed for unknown e-mails.
type Hasher interface {
	auth.PasswordHasher
	DummyHash() string
}

// Caller identifies the authenticated account performing an operation.
type Caller struct {
	ID   string
	Role models.Role
}

// TokenPair is returned by Authenticate and Refresh.
type TokenPair struct {
	Account               *models.Account
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// SessionService implements the account operations: logging in, rotating
// and revoking refresh tokens, registration with e-mail verification,
// password reset and account administration. Every change to an account
// goes through a load, mutate and versioned save cycle.
type SessionService struct {
	accounts accounts.Repository
	hasher   Hasher
	issuer   *auth.Issuer
	chain    *RefreshTokenChain
	onetime  *OneTimeTokens
	gate     auth.Gate
	check    auth.PasswordCheck
	mailer   mailer.Mailer
	metrics  *metrics.Metrics
	log      logging.Logger

	retryAttempts uint64
	retryBase     time.Duration
	now           func() time.Time
}

// Option customises a SessionService.
type Option func(*SessionService)

func WithHasher(h Hasher) Option {
	return func(s *SessionService) { s.hasher = h }
}

func WithMailer(m mailer.Mailer) Option {
	return func(s *SessionService) { s.mailer = m }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *SessionService) { s.metrics = m }
}

func WithPasswordCheck(c auth.PasswordCheck) Option {
	return func(s *SessionService) { s.check = c }
}

// NewSessionService creates the service over repo. Token lifetimes, the
// signing key and retry limits come from cfg. Without options it hashes
// with argon2id, requires passwords of at least 8 characters and logs
// outgoing mail instead of sending it.
func NewSessionService(repo accounts.Repository, cfg *config.Config, log logging.Logger, opts ...Option) *SessionService {
	s := &SessionService{
		accounts:      repo,
		hasher:        auth.NewArgon2idHasher(),
		issuer:        auth.NewIssuer([]byte(cfg.SecretKey), cfg.SigningKeyID, cfg.AccessTokenValidityDuration),
		chain:         NewRefreshTokenChain(cfg.RefreshTokenValidityDuration, cfg.RefreshTokenTTL),
		onetime:       NewOneTimeTokens(cfg.OneTimeTokenValidityDuration),
		check:         auth.MinLength(8),
		log:           log.With("component", "sessions"),
		retryAttempts: uint64(max(cfg.SaveRetryAttempts, 0)),
		retryBase:     5 * time.Millisecond,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.mailer == nil {
		s.mailer = mailer.NewLogMailer(log)
	}
	return s
}

// Issuer exposes the access token issuer so transports can verify bearer
// tokens with the same key.
func (s *SessionService) Issuer() *auth.Issuer {
	return s.issuer
}

// mutation changes a freshly loaded account. When persist is true the
// account is saved even if err is not nil, and err is reported after the
// save succeeds.
type mutation func(a *models.Account) (persist bool, err error)

// update applies mutate to a freshly loaded account and saves it, starting
// over from the load when the save hits a version conflict.
func (s *SessionService) update(ctx context.Context, load func(ctx context.Context) (*models.Account, error), mutate mutation) (*models.Account, error) {
	var saved *models.Account
	var result error

	backoff := retry.WithMaxRetries(s.retryAttempts, retry.WithJitter(s.retryBase, retry.NewExponential(s.retryBase)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		a, err := load(ctx)
		if err != nil {
			return err
		}

		persist, mErr := mutate(a)
		if !persist {
			return mErr
		}

		a.UpdatedAt = s.now()
		if err := s.accounts.Save(ctx, a); err != nil {
			if errors.Is(err, common.ErrConflict) {
				s.metrics.RecordSaveConflict()
				s.log.Debug(ctx, "account save conflict, retrying", "account_id", a.ID)
				return retry.RetryableError(err)
			}
			return err
		}

		saved, result = a, mErr
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, oops.Code(common.CodeConflict).Wrap(err)
		}
		return nil, err
	}
	return saved, result
}

// storeError turns a store failure into the service taxonomy. notFound is
// reported when the lookup found nothing.
func storeError(err error, notFound error) error {
	switch {
	case errors.Is(err, common.ErrNotFound) && notFound != nil:
		return oops.Code(common.Code(notFound)).Wrap(notFound)
	case errors.Is(err, common.ErrAlreadyExists):
		return oops.Code(common.CodeAlreadyExists).Wrap(err)
	case common.Code(err) != common.CodeInternal:
		return err
	default:
		return oops.Code(common.CodeInternal).Wrapf(errors.Join(common.ErrInternal, err), "account store")
	}
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t")
}

func unauthorized(callerID string) error {
	return oops.Code(common.CodeUnauthorized).With("caller_id", callerID).Wrap(common.ErrUnauthorized)
}

func validation(msg string) error {
	return oops.Code(common.CodeValidation).Wrapf(common.ErrValidation, "%s", msg)
}

func resultLabel(err error) string {
	if err == nil {
		return metrics.ResultSuccess
	}
	return common.Code(err)
}

func (s *SessionService) issuePair(a *models.Account, rt *models.RefreshToken, raw string) (*TokenPair, error) {
	at, err := s.issuer.Issue(a.ID, a.Role)
	if err != nil {
		return nil, oops.Code(common.CodeInternal).Wrap(err)
	}
	return &TokenPair{
		Account:               a,
		AccessToken:           at.Token,
		AccessTokenExpiresAt:  at.ExpiresAt,
		RefreshToken:          raw,
		RefreshTokenExpiresAt: rt.ExpiresAt,
	}, nil
}

// Authenticate verifies e-mail and secret and starts a new session. Unknown
// e-mails and wrong secrets both fail with INVALID_CREDENTIALS after the
// same amount of hashing work.
func (s *SessionService) Authenticate(ctx context.Context, email, secret, ip string) (pair *TokenPair, err error) {
	defer func() { s.metrics.RecordAuthentication(resultLabel(err)) }()

	email = models.NormalizeEmail(email)
	invalid := oops.Code(common.CodeInvalidCredentials).Wrap(common.ErrInvalidCredentials)

	found, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.hasher.Verify(s.hasher.DummyHash(), secret)
			return nil, invalid
		}
		return nil, storeError(err, nil)
	}

	if !s.hasher.Verify(found.PasswordHash, secret) {
		s.log.Info(ctx, "authentication failed", "account_id", found.ID, "ip", ip)
		return nil, invalid
	}
	if !found.IsVerified() {
		return nil, oops.Code(common.CodeAccountUnverified).With("account_id", found.ID).Wrap(common.ErrAccountUnverified)
	}

	var upgraded string
	if s.hasher.NeedsUpgrade(found.PasswordHash) {
		if upgraded, err = s.hasher.Hash(secret); err != nil {
			return nil, oops.Code(common.CodeInternal).Wrap(err)
		}
	}

	var rt *models.RefreshToken
	var raw string

	a, err := s.update(ctx,
		func(ctx context.Context) (*models.Account, error) {
			a, err := s.accounts.FindByID(ctx, found.ID)
			if err != nil {
				return nil, storeError(err, common.ErrInvalidCredentials)
			}
			return a, nil
		},
		func(a *models.Account) (bool, error) {
			// the secret changed after it was verified
			if a.PasswordHash != found.PasswordHash {
				return false, invalid
			}
			if upgraded != "" {
				a.PasswordHash = upgraded
			}
			var err error
			rt, raw, err = s.chain.IssueInitial(a, ip)
			return err == nil, err
		})
	if err != nil {
		return nil, err
	}

	if upgraded != "" {
		s.log.Info(ctx, "password hash upgraded", "account_id", a.ID)
	}
	s.log.Info(ctx, "account authenticated", "account_id", a.ID, "ip", ip)
	return s.issuePair(a, rt, raw)
}

// Refresh rotates the presented refresh token and mints a new access token.
// Replaying a rotated or revoked token revokes every session of the account
// and fails with TOKEN_REUSE_DETECTED.
func (s *SessionService) Refresh(ctx context.Context, raw, ip string) (pair *TokenPair, err error) {
	defer func() { s.metrics.RecordRefresh(resultLabel(err)) }()

	hash := common.HashToken(raw)
	var rt *models.RefreshToken
	var nextRaw string
	var revoked int

	a, err := s.update(ctx,
		func(ctx context.Context) (*models.Account, error) {
			a, err := s.accounts.FindByRefreshToken(ctx, hash)
			if err != nil {
				return nil, storeError(err, common.ErrTokenInvalid)
			}
			return a, nil
		},
		func(a *models.Account) (bool, error) {
			active := len(a.ActiveRefreshTokens(s.chain.now()))
			var err error
			rt, nextRaw, err = s.chain.Rotate(a, raw, ip)
			if errors.Is(err, common.ErrTokenReuseDetected) {
				revoked = active
				return true, err
			}
			return err == nil, err
		})

	if errors.Is(err, common.ErrTokenReuseDetected) {
		s.metrics.RecordReuseDetected()
		s.metrics.RecordRevoked(common.ReasonReuseDetected, revoked)
		s.log.Warn(ctx, "refresh token reuse detected, all sessions revoked",
			"account_id", a.ID, "ip", ip, "revoked", revoked)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordRevoked(common.ReasonRotated, 1)
	return s.issuePair(a, rt, nextRaw)
}

// Logout revokes the presented refresh token.
func (s *SessionService) Logout(ctx context.Context, raw, ip string) error {
	hash := common.HashToken(raw)

	a, err := s.update(ctx,
		func(ctx context.Context) (*models.Account, error) {
			a, err := s.accounts.FindByRefreshToken(ctx, hash)
			if err != nil {
				return nil, storeError(err, common.ErrTokenInvalid)
			}
			return a, nil
		},
		func(a *models.Account) (bool, error) {
			err := s.chain.Revoke(a, raw, ip, common.ReasonLogout)
			return err == nil, err
		})
	if err != nil {
		return err
	}

	s.metrics.RecordRevoked(common.ReasonLogout, 1)
	s.log.Info(ctx, "logged out", "account_id", a.ID, "ip", ip)
	return nil
}

// Revoke revokes a refresh token on behalf of caller, who must own the
// token or be an admin.
func (s *SessionService) Revoke(ctx context.Context, caller Caller, raw, ip string) error {
	hash := common.HashToken(raw)

	a, err := s.update(ctx,
		func(ctx context.Context) (*models.Account, error) {
			a, err := s.accounts.FindByRefreshToken(ctx, hash)
			if err != nil {
				return nil, storeError(err, common.ErrTokenInvalid)
			}
			return a, nil
		},
		func(a *models.Account) (bool, error) {
			if !s.gate.CanAct(caller.ID, caller.Role, a.ID) {
				return false, unauthorized(caller.ID)
			}
			err := s.chain.Revoke(a, raw, ip, common.ReasonRevoked)
			return err == nil, err
		})
	if err != nil {
		return err
	}

	s.metrics.RecordRevoked(common.ReasonRevoked, 1)
	s.log.Info(ctx, "refresh token revoked", "account_id", a.ID, "caller_id", caller.ID, "ip", ip)
	return nil
}

// Register creates an unverified account and returns it with a fresh
// verification token. The very first account becomes an admin.
func (s *SessionService) Register(ctx context.Context, email, secret string) (*models.Account, string, error) {
	email = models.NormalizeEmail(email)
	if !validEmail(email) {
		return nil, "", validation("invalid e-mail address")
	}
	if err := s.check(secret); err != nil {
		return nil, "", err
	}

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, "", err
	}

	n, err := s.accounts.Count(ctx)
	if err != nil {
		return nil, "", storeError(err, nil)
	}

	role := models.RoleUser
	if n == 0 {
		role = models.RoleAdmin
	}

	now := s.now()
	a := &models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       models.StatusUnverified,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	token, err := s.onetime.IssueVerification(a)
	if err != nil {
		return nil, "", err
	}

	if err := s.accounts.Create(ctx, a); err != nil {
		return nil, "", storeError(err, nil)
	}

	s.log.Info(ctx, "account registered", "account_id", a.ID, "role", a.Role)
	s.deliver(ctx, a, func(ctx context.Context) error {
		return s.mailer.SendVerification(ctx, a.Email, token)
	})
	return a, token, nil
}

// CreateAdmin creates a verified admin account directly. It backs the
// bootstrap CLI and skips e-mail verification.
func (s *SessionService) CreateAdmin(ctx context.Context, email, secret string) (*models.Account, error) {
	a, err := s.createVerified(ctx, email, secret, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "admin account created", "account_id", a.ID)
	return a, nil
}

// CreateAccount lets an admin create a verified account with the given role.
func (s *SessionService) CreateAccount(ctx context.Context, caller Caller, email, secret string, role models.Role) (*models.Account, error) {
	if !s.gate.RequireRole(caller.Role, models.RoleAdmin) {
		return nil, unauthorized(caller.ID)
	}
	if !role.Valid() {
		return nil, validation("unknown role")
	}

	a, err := s.createVerified(ctx, email, secret, role)
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "account created", "account_id", a.ID, "caller_id", caller.ID, "role", role)
	return a, nil
}

func (s *SessionService) createVerified(ctx context.Context, email, secret string, role models.Role) (*models.Account, error) {
	email = models.NormalizeEmail(email)
	if !validEmail(email) {
		return nil, validation("invalid e-mail address")
	}
	if err := s.check(secret); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, err
	}

	now := s.now()
	a := &models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       models.StatusVerified,
		VerifiedAt:   &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		return nil, storeError(err, nil)
	}
	return a, nil
}

func (s *SessionService) deliver(ctx context.Context, a *models.Account, send func(ctx context.Context) error) {
	if err := send(ctx); err != nil {
		logging.LogError(ctx, s.log, "mail delivery failed", oops.With("account_id", a.ID).Wrap(err))
	}
}

// IssueVerification replaces the outstanding verification token of an
// unverified account.
func (s *SessionService) IssueVerification(ctx context.Context, caller Caller, accountID string) (string, error) {
	if !s.gate.CanAct(caller.ID, caller.Role, accountID) {
		return "", unauthorized(caller.ID)
	}

	var token string
	a, err := s.update(ctx,
		func(ctx context.Context) (*models.Account, error) {
			a, err := s.accounts.FindByID(ctx, accountID)
			if err != nil {
				return nil, storeError(err, common.ErrNotFound)
			}
			return a, nil
		},
		func(a *models.Account) (bool, error) {
			if a.IsVerified() {
				return false, validation("account already verified")
			}
			var err error
			token, err = s.onetime.IssueVerification(a)
			return err == nil, err
		})
	if err != nil {
		return "", err
	}

	s.deliver(ctx, a, func(ctx context.Context) error {
		return s.mailer.SendVerification(ctx, a.Email, token)
	})
	return token, nil
}

// ConfirmVerification consumes a verification token and marks its account
// verified.
func (s *SessionService) ConfirmVerification(ctx context.Context, raw string) (*models.Account, error) {
	hash := common.HashToken(raw)

	a, err := s.update(ctx,
		func(ctx context.Context) (*models.Account, error) {
			a, err := s.accounts.FindByOneTimeToken(ctx, hash, models.PurposeVerification)
			if err != nil {
				return nil, storeError(err, common.ErrTokenInvalid)
			}
			return a, nil
		},
		func(a *models.Account) (bool, error) {
			if err := s.onetime.Consume(a, raw, models.PurposeVerification); err != nil {
				return false, err
			}
			now := s.now()
			a.Status = models.StatusVerified
			a.VerifiedAt = &now
			return true, nil
		})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "account verified", "account_id", a.ID)
	return a, nil
}

// IssueReset starts a password reset. An unknown e-mail is not an error: it
// yields an empty token so callers cannot probe for accounts.
func (s *SessionService) IssueReset(ctx context.Context, email string) (string, error) {
	email = models.NormalizeEmail(email)

	var token string
	a, err := s.update(ctx,
		func(ctx context.Context) (*models.Account, error) {
			a, err := s.accounts.FindByEmail(ctx, email)
			if err != nil {
				return nil, storeError(err, common.ErrNotFound)
			}
			return a, nil
		},
		func(a *models.Account) (bool, error) {
			var err error
			token, err = s.onetime.IssueReset(a)
			return err == nil, err
		})
	if errors.Is(err, common.ErrNotFound) {
		s.log.Debug(ctx, "password reset requested for unknown e-mail")
		return "", nil
	}
	if err != nil {
		return "", err
	}

	s.log.Info(ctx, "password reset issued", "account_id", a.ID)
	s.deliver(ctx, a, func(ctx context.Context) error {
		return s.mailer.SendPasswordReset(ctx, a.Email, token)
	})
	return token, nil
}

// ValidateResetToken checks a reset token without consuming it.
func (s *SessionService) ValidateResetToken(ctx context.Context, raw string) error {
	a, err := s.accounts.FindByOneTimeToken(ctx, common.HashToken(raw), models.PurposePasswordReset)
	if err != nil {
		return storeError(err, common.ErrTokenInvalid)
	}
	_, err = s.onetime.Validate(a, raw, models.PurposePasswordReset)
	return err
}

// ResetPassword consumes a reset token, replaces the secret and revokes
// every active refresh token of the account.
func (s *SessionService) ResetPassword(ctx context.Context, raw, newSecret string) error {
	if err := s.check(newSecret); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newSecret)
	if err != nil {
		return err
	}

	var revoked int
	a, err := s.update(ctx,
		func(ctx context.Context) (*models.Account, error) {
			a, err := s.accounts.FindByOneTimeToken(ctx, common.HashToken(raw), models.PurposePasswordReset)
			if err != nil {
				return nil, storeError(err, common.ErrTokenInvalid)
			}
			return a, nil
		},
		func(a *models.Account) (bool, error) {
			if err := s.onetime.Consume(a, raw, models.PurposePasswordReset); err != nil {
				return false, err
			}
			now := s.now()
			a.PasswordHash = hash
			a.PasswordResetAt = &now
			revoked = s.chain.RevokeAll(a, "", common.ReasonPasswordReset)
			return true, nil
		})
	if err != nil {
		return err
	}

	s.metrics.RecordRevoked(common.ReasonPasswordReset, revoked)
	s.log.Info(ctx, "password reset", "account_id", a.ID, "revoked", revoked)
	return nil
}

// GetAccount returns an account to its owner or to an admin.
func (s *SessionService) GetAccount(ctx context.Context, caller Caller, id string) (*models.Account, error) {
	if !s.gate.CanAct(caller.ID, caller.Role, id) {
		return nil, unauthorized(caller.ID)
	}
	a, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, common.ErrNotFound)
	}
	return a, nil
}

// ListAccounts returns every account. Admin only.
func (s *SessionService) ListAccounts(ctx context.Context, caller Caller) ([]*models.Account, error) {
	if !s.gate.RequireRole(caller.Role, models.RoleAdmin) {
		return nil, unauthorized(caller.ID)
	}
	list, err := s.accounts.List(ctx)
	if err != nil {
		return nil, storeError(err, nil)
	}
	return list, nil
}

// UpdateRole changes the role of an account. Admin only.
func (s *SessionService) UpdateRole(ctx context.Context, caller Caller, id string, role models.Role) (*models.Account, error) {
	if !s.gate.RequireRole(caller.Role, models.RoleAdmin) {
		return nil, unauthorized(caller.ID)
	}
	if !role.Valid() {
		return nil, validation("unknown role")
	}

	var previous models.Role
	a, err := s.update(ctx,
		func(ctx context.Context) (*models.Account, error) {
			a, err := s.accounts.FindByID(ctx, id)
			if err != nil {
				return nil, storeError(err, common.ErrNotFound)
			}
			return a, nil
		},
		func(a *models.Account) (bool, error) {
			previous = a.Role
			a.Role = role
			return true, nil
		})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "account role changed", "account_id", a.ID, "caller_id", caller.ID, "from", previous, "to", role)
	return a, nil
}

// ListSessions returns the active refresh tokens of an account.
func (s *SessionService) ListSessions(ctx context.Context, caller Caller, id string) ([]*models.RefreshToken, error) {
	if !s.gate.CanAct(caller.ID, caller.Role, id) {
		return nil, unauthorized(caller.ID)
	}
	a, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, common.ErrNotFound)
	}
	return a.ActiveRefreshTokens(s.chain.now()), nil
}
