package auth

import (
	"context"
	"errors"
	"strings"

	"lodgeportal/auth-service/internal/audit"
	"lodgeportal/auth-service/internal/models"
	"lodgeportal/auth-service/internal/password"
	"lodgeportal/auth-service/internal/store"
)

// CreateUserInput carries the administrative account-creation request.
type CreateUserInput struct {
	Email    string
	Name     string
	Role     models.Role
	Password string
}

// CreateUser creates an account on behalf of an administrator. The
// password must satisfy the strength policy; violations come back as
// ValidationError with the specific rule.
func (s *Service) CreateUser(ctx context.Context, sourceKey string, actor models.User, input CreateUserInput) (models.User, error) {
	if !models.RoleCan(actor.Role, models.ActionManageUsers) {
		return models.User{}, ErrForbidden
	}

	email := NormalizeEmail(input.Email)
	if email == "" || !strings.Contains(email, "@") {
		return models.User{}, &ValidationError{Reason: "a valid email address is required"}
	}
	role := input.Role
	if role == "" {
		role = models.RoleMember
	}
	if _, ok := models.ParseRole(string(role)); !ok {
		return models.User{}, &ValidationError{Reason: "role must be one of super_admin, admin, member"}
	}
	if err := s.cfg.PasswordPolicy.Validate(input.Password); err != nil {
		return models.User{}, &ValidationError{Reason: err.Error()}
	}

	hash, err := password.Hash(input.Password)
	if err != nil {
		return models.User{}, err
	}
	user, err := s.store.CreateUser(ctx, store.NewUser{
		Email:        email,
		Name:         strings.TrimSpace(input.Name),
		Role:         role,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return models.User{}, &ValidationError{Reason: "email already registered"}
		}
		return models.User{}, ErrStoreUnavailable
	}
	s.audit.Record(ctx, audit.EventUserCreated, sourceKey, user.Email)
	return user, nil
}

// DeactivateUser soft-disables the account and force-logs it out.
// Existing sessions would be treated as invalid anyway; revoking them
// keeps the session table honest.
func (s *Service) DeactivateUser(ctx context.Context, sourceKey string, actor models.User, userID string) error {
	if !models.RoleCan(actor.Role, models.ActionManageUsers) {
		return ErrForbidden
	}
	target, err := s.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return err
		}
		return ErrStoreUnavailable
	}
	if err := s.store.SetActive(ctx, userID, false); err != nil {
		return ErrStoreUnavailable
	}
	if _, err := s.RevokeAll(ctx, userID); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.EventUserDeactivated, sourceKey, target.Email)
	return nil
}

// DeleteUser hard-deletes the account; sessions and pending challenges
// cascade in the store.
func (s *Service) DeleteUser(ctx context.Context, sourceKey string, actor models.User, userID string) error {
	if !models.RoleCan(actor.Role, models.ActionManageUsers) {
		return ErrForbidden
	}
	target, err := s.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return err
		}
		return ErrStoreUnavailable
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return err
		}
		return ErrStoreUnavailable
	}
	s.audit.Record(ctx, audit.EventUserDeleted, sourceKey, target.Email)
	return nil
}

// RecentSecurityLog exposes the audit trail to administrators.
func (s *Service) RecentSecurityLog(ctx context.Context, actor models.User, limit int) ([]models.SecurityLogEntry, error) {
	if !models.RoleCan(actor.Role, models.ActionViewSecurityLog) {
		return nil, ErrForbidden
	}
	entries, err := s.store.RecentSecurityLog(ctx, limit)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	return entries, nil
}
