// Package memory implements store.Store on process-local maps. It
// backs tests and single-node development; durability and cross-
// instance consistency come from the postgres implementation.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"lodgeportal/auth-service/internal/models"
	"lodgeportal/auth-service/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu         sync.Mutex
	users      map[string]*models.User           // by id
	sessions   map[string]*models.Session        // by token
	challenges map[string]*models.LoginChallenge // by id
	logs       []models.SecurityLogEntry
	nextLogID  int64
}

func NewStore() *Store {
	return &Store{
		users:      make(map[string]*models.User),
		sessions:   make(map[string]*models.Session),
		challenges: make(map[string]*models.LoginChallenge),
		nextLogID:  1,
	}
}

func cloneUser(u *models.User) models.User {
	out := *u
	out.BackupCodes = append([]string(nil), u.BackupCodes...)
	if u.LastLogin != nil {
		at := *u.LastLogin
		out.LastLogin = &at
	}
	return out
}

func (s *Store) CreateUser(_ context.Context, input store.NewUser) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(input.Email))
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return models.User{}, store.ErrEmailTaken
		}
	}

	now := time.Now().UTC()
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         input.Name,
		Role:         input.Role,
		PasswordHash: input.PasswordHash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.ID] = u
	return cloneUser(u), nil
}

func (s *Store) UserByID(_ context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return models.User{}, store.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			return cloneUser(u), nil
		}
	}
	return models.User{}, store.ErrUserNotFound
}

func (s *Store) SetPassword(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetTOTP(_ context.Context, userID, secret string, enabled bool, backupCodeHashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	u.TOTPSecret = secret
	u.TOTPEnabled = enabled
	u.BackupCodes = append([]string(nil), backupCodeHashes...)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetActive(_ context.Context, userID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	u.IsActive = active
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return store.ErrUserNotFound
	}
	delete(s.users, userID)
	// Cascade, as the foreign keys would.
	for token, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, token)
		}
	}
	for id, ch := range s.challenges {
		if ch.UserID == userID {
			delete(s.challenges, id)
		}
	}
	return nil
}

func (s *Store) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	u.LastLogin = &at
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ConsumeBackupCode(_ context.Context, userID, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, store.ErrUserNotFound
	}
	for i, h := range u.BackupCodes {
		if h == codeHash {
			u.BackupCodes = append(u.BackupCodes[:i], u.BackupCodes[i+1:]...)
			u.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateSession(_ context.Context, userID, token string, expiresAt time.Time) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return models.Session{}, store.ErrUserNotFound
	}
	sess := &models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	s.sessions[token] = sess
	return *sess, nil
}

func (s *Store) SessionByToken(_ context.Context, token string) (models.Session, models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return models.Session{}, models.User{}, store.ErrSessionNotFound
	}
	u, ok := s.users[sess.UserID]
	if !ok {
		return models.Session{}, models.User{}, store.ErrSessionNotFound
	}
	return *sess, cloneUser(u), nil
}

func (s *Store) DeleteSession(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[token]; !ok {
		return false, nil
	}
	delete(s.sessions, token)
	return true, nil
}

func (s *Store) DeleteSessionsByUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) CreateChallenge(_ context.Context, userID string, expiresAt time.Time) (models.LoginChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return models.LoginChallenge{}, store.ErrUserNotFound
	}
	ch := &models.LoginChallenge{
		ID:        uuid.NewString(),
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	s.challenges[ch.ID] = ch
	return *ch, nil
}

func (s *Store) TakeChallenge(_ context.Context, id string) (models.LoginChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[id]
	if !ok {
		return models.LoginChallenge{}, store.ErrChallengeNotFound
	}
	delete(s.challenges, id)
	return *ch, nil
}

func (s *Store) AppendSecurityLog(_ context.Context, entry models.SecurityLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.nextLogID
	s.nextLogID++
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	s.logs = append(s.logs, entry)
	return nil
}

func (s *Store) RecentSecurityLog(_ context.Context, limit int) ([]models.SecurityLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.logs) {
		limit = len(s.logs)
	}
	out := make([]models.SecurityLogEntry, 0, limit)
	for i := len(s.logs) - 1; i >= len(s.logs)-limit; i-- {
		out = append(out, s.logs[i])
	}
	return out, nil
}
