// Package auth sequences the login state machine: rate gate, credential
// check, optional second factor, session issuance. Every terminal
// outcome produces exactly one security log entry.
package auth

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"lodgeportal/auth-service/internal/audit"
	"lodgeportal/auth-service/internal/models"
	"lodgeportal/auth-service/internal/password"
	"lodgeportal/auth-service/internal/ratelimit"
	"lodgeportal/auth-service/internal/store"
	"lodgeportal/auth-service/internal/totp"

	"github.com/google/uuid"
)

type Config struct {
	SessionTTL   time.Duration
	ChallengeTTL time.Duration

	LoginMaxAttempts        int
	LoginWindow             time.Duration
	SecondFactorMaxAttempts int
	SecondFactorWindow      time.Duration
	DownloadMaxAttempts     int
	DownloadWindow          time.Duration

	PasswordPolicy password.Policy
}

func DefaultConfig() Config {
	return Config{
		SessionTTL:              7 * 24 * time.Hour,
		ChallengeTTL:            5 * time.Minute,
		LoginMaxAttempts:        5,
		LoginWindow:             15 * time.Minute,
		SecondFactorMaxAttempts: 5,
		SecondFactorWindow:      15 * time.Minute,
		DownloadMaxAttempts:     10,
		DownloadWindow:          60 * time.Minute,
		PasswordPolicy:          password.DefaultPolicy(),
	}
}

type Service struct {
	store   store.Store
	limiter ratelimit.Limiter
	totp    *totp.Engine
	audit   *audit.Recorder
	cfg     Config
	now     func() time.Time
}

func NewService(st store.Store, limiter ratelimit.Limiter, engine *totp.Engine, recorder *audit.Recorder, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = def.ChallengeTTL
	}
	if cfg.LoginMaxAttempts <= 0 {
		cfg.LoginMaxAttempts = def.LoginMaxAttempts
	}
	if cfg.LoginWindow <= 0 {
		cfg.LoginWindow = def.LoginWindow
	}
	if cfg.SecondFactorMaxAttempts <= 0 {
		cfg.SecondFactorMaxAttempts = def.SecondFactorMaxAttempts
	}
	if cfg.SecondFactorWindow <= 0 {
		cfg.SecondFactorWindow = def.SecondFactorWindow
	}
	if cfg.DownloadMaxAttempts <= 0 {
		cfg.DownloadMaxAttempts = def.DownloadMaxAttempts
	}
	if cfg.DownloadWindow <= 0 {
		cfg.DownloadWindow = def.DownloadWindow
	}
	if cfg.PasswordPolicy.MinLength <= 0 {
		cfg.PasswordPolicy.MinLength = def.PasswordPolicy.MinLength
	}
	if cfg.PasswordPolicy.MinClasses <= 0 {
		cfg.PasswordPolicy.MinClasses = def.PasswordPolicy.MinClasses
	}
	return &Service{
		store:   st,
		limiter: limiter,
		totp:    engine,
		audit:   recorder,
		cfg:     cfg,
		now:     time.Now,
	}
}

// LoginResult is the outcome of a successful password check. Either a
// session was issued, or ChallengeID is set and the caller must submit
// a second factor.
type LoginResult struct {
	SessionToken string
	ExpiresAt    time.Time
	User         models.User
	ChallengeID  string
}

func (r LoginResult) SecondFactorRequired() bool {
	return r.ChallengeID != ""
}

// NormalizeEmail applies the lookup normalization: trimmed, lowercased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login runs the password step of the state machine for one attempt
// from sourceKey (the proxy-validated client address).
func (s *Service) Login(ctx context.Context, sourceKey, email, pw string) (LoginResult, error) {
	allowed, err := s.limiter.Allow(ctx, "login:"+sourceKey, s.cfg.LoginMaxAttempts, s.cfg.LoginWindow)
	if err != nil {
		// Fail closed: an unreachable limiter must not grant
		// unlimited attempts.
		log.Printf("auth: login limiter: %v", err)
		return LoginResult{}, ErrStoreUnavailable
	}
	if !allowed {
		s.audit.Record(ctx, audit.EventLoginRateLimited, sourceKey, "")
		return LoginResult{}, &RateLimitedError{RetryAfter: s.cfg.LoginWindow}
	}

	normalized := NormalizeEmail(email)
	user, err := s.store.UserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			s.audit.Record(ctx, audit.EventLoginFailure, sourceKey, "unknown account "+normalized)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, ErrStoreUnavailable
	}
	if !user.IsActive || user.PasswordHash == "" || !password.Verify(pw, user.PasswordHash) {
		s.audit.Record(ctx, audit.EventLoginFailure, sourceKey, normalized)
		return LoginResult{}, ErrInvalidCredentials
	}

	if user.TOTPEnabled {
		challenge, err := s.store.CreateChallenge(ctx, user.ID, s.now().Add(s.cfg.ChallengeTTL).UTC())
		if err != nil {
			return LoginResult{}, ErrStoreUnavailable
		}
		// Not a terminal state: no session and no audit entry yet.
		return LoginResult{ChallengeID: challenge.ID, User: user}, nil
	}

	return s.issueSession(ctx, sourceKey, user, audit.EventLoginSuccess)
}

// VerifySecondFactor completes a pending challenge with either a TOTP
// code or a backup code. The challenge is consumed on any attempt: a
// failed code sends the caller back to the password step.
func (s *Service) VerifySecondFactor(ctx context.Context, sourceKey, challengeID, code, backupCode string) (LoginResult, error) {
	allowed, err := s.limiter.Allow(ctx, "2fa:"+sourceKey, s.cfg.SecondFactorMaxAttempts, s.cfg.SecondFactorWindow)
	if err != nil {
		log.Printf("auth: second factor limiter: %v", err)
		return LoginResult{}, ErrStoreUnavailable
	}
	if !allowed {
		s.audit.Record(ctx, audit.EventSecondFactorRateLimited, sourceKey, "")
		return LoginResult{}, &RateLimitedError{RetryAfter: s.cfg.SecondFactorWindow}
	}

	challenge, err := s.store.TakeChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, store.ErrChallengeNotFound) {
			s.audit.Record(ctx, audit.EventSecondFactorFailure, sourceKey, "unknown or used challenge")
			return LoginResult{}, ErrInvalidCode
		}
		return LoginResult{}, ErrStoreUnavailable
	}
	if !s.now().Before(challenge.ExpiresAt) {
		s.audit.Record(ctx, audit.EventSecondFactorFailure, sourceKey, "expired challenge")
		return LoginResult{}, ErrInvalidCode
	}

	user, err := s.store.UserByID(ctx, challenge.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			s.audit.Record(ctx, audit.EventSecondFactorFailure, sourceKey, "challenge for missing user")
			return LoginResult{}, ErrInvalidCode
		}
		return LoginResult{}, ErrStoreUnavailable
	}
	if !user.IsActive || !user.TOTPEnabled {
		s.audit.Record(ctx, audit.EventSecondFactorFailure, sourceKey, user.Email)
		return LoginResult{}, ErrInvalidCode
	}

	if code != "" && s.totp.VerifyCode(user.TOTPSecret, code, s.now()) {
		return s.issueSession(ctx, sourceKey, user, audit.EventSecondFactorSuccess)
	}

	if backupCode != "" {
		consumed, err := s.store.ConsumeBackupCode(ctx, user.ID, totp.HashCode(backupCode))
		if err != nil {
			return LoginResult{}, ErrStoreUnavailable
		}
		if consumed {
			// Distinct event: the user's primary device may be gone.
			return s.issueSession(ctx, sourceKey, user, audit.EventBackupCodeUsed)
		}
	}

	s.audit.Record(ctx, audit.EventSecondFactorFailure, sourceKey, user.Email)
	return LoginResult{}, ErrInvalidCode
}

func (s *Service) issueSession(ctx context.Context, sourceKey string, user models.User, event string) (LoginResult, error) {
	token := uuid.NewString()
	expiresAt := s.now().Add(s.cfg.SessionTTL).UTC()
	session, err := s.store.CreateSession(ctx, user.ID, token, expiresAt)
	if err != nil {
		return LoginResult{}, ErrStoreUnavailable
	}
	if err := s.store.TouchLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		log.Printf("auth: touch last_login for %s: %v", user.ID, err)
	}
	s.audit.Record(ctx, event, sourceKey, user.Email)
	return LoginResult{SessionToken: token, ExpiresAt: session.ExpiresAt, User: user}, nil
}

// Validate resolves a bearer token to its user. Absent, expired, and
// inactive-user sessions all collapse to ErrNotAuthenticated; only the
// audit log distinguishes them.
func (s *Service) Validate(ctx context.Context, token string) (models.User, error) {
	if token == "" {
		return models.User{}, ErrNotAuthenticated
	}
	session, user, err := s.store.SessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return models.User{}, ErrNotAuthenticated
		}
		return models.User{}, ErrStoreUnavailable
	}
	if !s.now().Before(session.ExpiresAt) {
		// Left in place for the sweeper; validity already excludes it.
		s.audit.Record(ctx, audit.EventSessionExpired, "", user.Email)
		return models.User{}, ErrNotAuthenticated
	}
	if !user.IsActive {
		return models.User{}, ErrNotAuthenticated
	}
	return user, nil
}

// Logout revokes one session. Idempotent: revoking an unknown token is
// not an error.
func (s *Service) Logout(ctx context.Context, sourceKey, token string) error {
	if token == "" {
		return nil
	}
	removed, err := s.store.DeleteSession(ctx, token)
	if err != nil {
		return ErrStoreUnavailable
	}
	if removed {
		s.audit.Record(ctx, audit.EventLogout, sourceKey, "")
	}
	return nil
}

// RevokeAll deletes every session owned by the user, for forced logout
// and account deactivation.
func (s *Service) RevokeAll(ctx context.Context, userID string) (int, error) {
	count, err := s.store.DeleteSessionsByUser(ctx, userID)
	if err != nil {
		return 0, ErrStoreUnavailable
	}
	return count, nil
}

// SweepExpired deletes sessions past their expiry. Housekeeping only:
// Validate already excludes expired rows, so any schedule is safe.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	count, err := s.store.DeleteExpiredSessions(ctx, s.now().UTC())
	if err != nil {
		return 0, ErrStoreUnavailable
	}
	return count, nil
}

// GateDownload applies the download attempt budget for the document
// collaborator. Fails closed on limiter errors.
func (s *Service) GateDownload(ctx context.Context, sourceKey string) bool {
	allowed, err := s.limiter.Allow(ctx, "download:"+sourceKey, s.cfg.DownloadMaxAttempts, s.cfg.DownloadWindow)
	if err != nil {
		log.Printf("auth: download limiter: %v", err)
		return false
	}
	return allowed
}
