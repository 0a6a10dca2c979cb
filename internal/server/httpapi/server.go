// Package httpapi exposes the session service over HTTP with gorilla/mux.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sessions is the part of the session service the HTTP layer calls.
type Sessions interface {
	Authenticate(ctx context.Context, email, secret, ip string) (*services.TokenPair, error)
	Refresh(ctx context.Context, raw, ip string) (*services.TokenPair, error)
	Logout(ctx context.Context, raw, ip string) error
	Revoke(ctx context.Context, caller services.Caller, raw, ip string) error
	Register(ctx context.Context, email, secret string) (*models.Account, string, error)
	IssueVerification(ctx context.Context, caller services.Caller, accountID string) (string, error)
	ConfirmVerification(ctx context.Context, raw string) (*models.Account, error)
	IssueReset(ctx context.Context, email string) (string, error)
	ValidateResetToken(ctx context.Context, raw string) error
	ResetPassword(ctx context.Context, raw, newSecret string) error
	GetAccount(ctx context.Context, caller services.Caller, id string) (*models.Account, error)
	ListAccounts(ctx context.Context, caller services.Caller) ([]*models.Account, error)
	CreateAccount(ctx context.Context, caller services.Caller, email, secret string, role models.Role) (*models.Account, error)
	UpdateRole(ctx context.Context, caller services.Caller, id string, role models.Role) (*models.Account, error)
	ListSessions(ctx context.Context, caller services.Caller, id string) ([]*models.RefreshToken, error)
}

// TokenVerifier checks bearer access tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type Server struct {
	address      string
	sessions     Sessions
	verifier     TokenVerifier
	logger       logging.Logger
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer
	cookieSecure bool
	now          func() time.Time
}

type Option func(*Server)

// WithMetrics records request metrics and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithSecureCookie sets the Secure attribute on the refresh token cookie.
func WithSecureCookie(secure bool) Option {
	return func(s *Server) { s.cookieSecure = secure }
}

func NewServer(address string, l logging.Logger, sessions Sessions, verifier TokenVerifier, opts ...Option) *Server {
	s := &Server{
		address:  address,
		sessions: sessions,
		verifier: verifier,
		logger:   l.With("module", "http_server"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.instrument)

	a := r.PathPrefix("/accounts").Subrouter()

	a.HandleFunc("/authenticate", s.authenticate).Methods(http.MethodPost)
	a.HandleFunc("/refresh-token", s.refreshToken).Methods(http.MethodPost)
	a.HandleFunc("/logout", s.logout).Methods(http.MethodPost)
	a.HandleFunc("/register", s.register).Methods(http.MethodPost)
	a.HandleFunc("/verify-email", s.verifyEmail).Methods(http.MethodPost)
	a.HandleFunc("/forgot-password", s.forgotPassword).Methods(http.MethodPost)
	a.HandleFunc("/validate-reset-token", s.validateResetToken).Methods(http.MethodPost)
	a.HandleFunc("/reset-password", s.resetPassword).Methods(http.MethodPost)

	a.HandleFunc("/revoke-token", s.requireAuth(s.revokeToken)).Methods(http.MethodPost)
	a.HandleFunc("", s.requireAuth(s.listAccounts)).Methods(http.MethodGet)
	a.HandleFunc("", s.requireAuth(s.createAccount)).Methods(http.MethodPost)
	a.HandleFunc("/{id}", s.requireAuth(s.getAccount)).Methods(http.MethodGet)
	a.HandleFunc("/{id}/role", s.requireAuth(s.updateRole)).Methods(http.MethodPut)
	a.HandleFunc("/{id}/sessions", s.requireAuth(s.listSessions)).Methods(http.MethodGet)
	a.HandleFunc("/{id}/verification", s.requireAuth(s.issueVerification)).Methods(http.MethodPost)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP server shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
