package store

import (
	"context"
	"time"

	"lodgeportal/auth-service/internal/models"
)

// NewUser carries the fields set when an administrator creates an
// account. The password hash is produced by the caller; stores never
// see plaintext passwords.
type NewUser struct {
	Email        string
	Name         string
	Role         models.Role
	PasswordHash string
}

// Store is the persistence boundary for the auth subsystem. Row-to-
// domain mapping happens inside implementations so that the rest of
// the code only sees typed models.
type Store interface {
	CreateUser(ctx context.Context, input NewUser) (models.User, error)
	UserByID(ctx context.Context, id string) (models.User, error)
	// UserByEmail matches case-insensitively.
	UserByEmail(ctx context.Context, email string) (models.User, error)
	SetPassword(ctx context.Context, userID, passwordHash string) error
	// SetTOTP records an enrollment state change. Backup codes are
	// hashes, never plaintext.
	SetTOTP(ctx context.Context, userID, secret string, enabled bool, backupCodeHashes []string) error
	SetActive(ctx context.Context, userID string, active bool) error
	// DeleteUser removes the user and cascades to sessions and
	// pending challenges.
	DeleteUser(ctx context.Context, userID string) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	// ConsumeBackupCode removes one stored hash if present. The
	// removal is an atomic conditional update: of two concurrent
	// calls with the same hash, exactly one reports true.
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)

	CreateSession(ctx context.Context, userID, token string, expiresAt time.Time) (models.Session, error)
	// SessionByToken returns the session and owning user without
	// filtering on expiry; expiry policy belongs to the caller.
	SessionByToken(ctx context.Context, token string) (models.Session, models.User, error)
	// DeleteSession reports whether a session was actually removed,
	// making revocation idempotent for callers.
	DeleteSession(ctx context.Context, token string) (bool, error)
	DeleteSessionsByUser(ctx context.Context, userID string) (int, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)

	CreateChallenge(ctx context.Context, userID string, expiresAt time.Time) (models.LoginChallenge, error)
	// TakeChallenge returns and deletes the challenge in one step, so
	// a challenge id can never be replayed.
	TakeChallenge(ctx context.Context, id string) (models.LoginChallenge, error)

	AppendSecurityLog(ctx context.Context, entry models.SecurityLogEntry) error
	RecentSecurityLog(ctx context.Context, limit int) ([]models.SecurityLogEntry, error)
}
