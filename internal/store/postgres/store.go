package postgres

import (
	"context"
	"errors"
	"time"

	"lodgeportal/auth-service/internal/models"
	"lodgeportal/auth-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const userColumns = `u.id, u.email, u.name, u.role, u.password_hash,
	       COALESCE(u.totp_secret, ''), u.totp_enabled, COALESCE(u.backup_codes, '{}'),
	       u.is_active, u.created_at, u.updated_at, u.last_login`

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &u.PasswordHash,
		&u.TOTPSecret, &u.TOTPEnabled, &u.BackupCodes,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt, &u.LastLogin)
	if err != nil {
		return models.User{}, err
	}
	parsed, ok := models.ParseRole(role)
	if !ok {
		return models.User{}, errors.New("postgres: unknown role " + role)
	}
	u.Role = parsed
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, input store.NewUser) (models.User, error) {
	id := uuid.NewString()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, name, role, password_hash)
		VALUES ($1, lower($2), $3, $4, $5)
		RETURNING id, email, name, role, password_hash,
		       COALESCE(totp_secret, ''), totp_enabled, COALESCE(backup_codes, '{}'),
		       is_active, created_at, updated_at, last_login
	`, id, input.Email, input.Name, string(input.Role), input.PasswordHash)
	user, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return models.User{}, store.ErrEmailTaken
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) UserByID(ctx context.Context, id string) (models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users u
		WHERE u.id = $1
	`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users u
		WHERE lower(u.email) = lower($1)
	`, email)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) SetPassword(ctx context.Context, userID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = NOW()
		WHERE id = $1
	`, userID, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

func (s *Store) SetTOTP(ctx context.Context, userID, secret string, enabled bool, backupCodeHashes []string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET totp_secret = NULLIF($2, ''), totp_enabled = $3, backup_codes = $4, updated_at = NOW()
		WHERE id = $1
	`, userID, secret, enabled, backupCodeHashes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

func (s *Store) SetActive(ctx context.Context, userID string, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET is_active = $2, updated_at = NOW()
		WHERE id = $1
	`, userID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	// Sessions and pending challenges go with the user via ON DELETE CASCADE.
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET last_login = $2, updated_at = NOW()
		WHERE id = $1
	`, userID, at)
	return err
}

func (s *Store) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	// Single conditional UPDATE: the containment guard and the removal
	// happen in one statement, so concurrent submissions of the same
	// code cannot both succeed.
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET backup_codes = array_remove(backup_codes, $2), updated_at = NOW()
		WHERE id = $1 AND $2 = ANY(backup_codes)
	`, userID, codeHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CreateSession(ctx context.Context, userID, token string, expiresAt time.Time) (models.Session, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, userID, token, expiresAt, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return models.Session{}, store.ErrUserNotFound
		}
		return models.Session{}, err
	}
	return models.Session{ID: id, UserID: userID, Token: token, ExpiresAt: expiresAt, CreatedAt: now}, nil
}

func (s *Store) SessionByToken(ctx context.Context, token string) (models.Session, models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT s.id, s.user_id, s.token, s.expires_at, s.created_at,
		       `+userColumns+`
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = $1
	`, token)

	var sess models.Session
	var u models.User
	var role string
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Token, &sess.ExpiresAt, &sess.CreatedAt,
		&u.ID, &u.Email, &u.Name, &role, &u.PasswordHash,
		&u.TOTPSecret, &u.TOTPEnabled, &u.BackupCodes,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt, &u.LastLogin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, models.User{}, store.ErrSessionNotFound
		}
		return models.Session{}, models.User{}, err
	}
	parsed, ok := models.ParseRole(role)
	if !ok {
		return models.Session{}, models.User{}, errors.New("postgres: unknown role " + role)
	}
	u.Role = parsed
	return sess, u, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) DeleteSessionsByUser(ctx context.Context, userID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) CreateChallenge(ctx context.Context, userID string, expiresAt time.Time) (models.LoginChallenge, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO login_challenges (id, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`, id, userID, expiresAt, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return models.LoginChallenge{}, store.ErrUserNotFound
		}
		return models.LoginChallenge{}, err
	}
	return models.LoginChallenge{ID: id, UserID: userID, ExpiresAt: expiresAt, CreatedAt: now}, nil
}

func (s *Store) TakeChallenge(ctx context.Context, id string) (models.LoginChallenge, error) {
	// DELETE ... RETURNING makes the challenge single-use even under
	// concurrent submissions.
	row := s.pool.QueryRow(ctx, `
		DELETE FROM login_challenges
		WHERE id = $1
		RETURNING id, user_id, expires_at, created_at
	`, id)
	var ch models.LoginChallenge
	if err := row.Scan(&ch.ID, &ch.UserID, &ch.ExpiresAt, &ch.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.LoginChallenge{}, store.ErrChallengeNotFound
		}
		return models.LoginChallenge{}, err
	}
	return ch, nil
}

func (s *Store) AppendSecurityLog(ctx context.Context, entry models.SecurityLogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO security_logs (ts, source, event, detail)
		VALUES ($1, $2, $3, $4)
	`, entry.Timestamp, entry.Source, entry.Event, entry.Detail)
	return err
}

func (s *Store) RecentSecurityLog(ctx context.Context, limit int) ([]models.SecurityLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, ts, source, event, detail
		FROM security_logs
		ORDER BY ts DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.SecurityLogEntry
	for rows.Next() {
		var e models.SecurityLogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Source, &e.Event, &e.Detail); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
