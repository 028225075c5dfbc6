package auth

import (
	"context"
	"errors"

	"lodgeportal/auth-service/internal/audit"
	"lodgeportal/auth-service/internal/models"
	"lodgeportal/auth-service/internal/store"
	"lodgeportal/auth-service/internal/totp"
)

// Enrollment is handed to the caller for QR-code display. The secret
// is not yet active: EnableTOTP must confirm a live code first.
type Enrollment struct {
	Secret          string
	ProvisioningURI string
}

// BeginTOTPEnrollment generates and stores a pending secret for the
// authenticated user. Calling it again replaces the pending secret.
func (s *Service) BeginTOTPEnrollment(ctx context.Context, user models.User) (Enrollment, error) {
	if user.TOTPEnabled {
		return Enrollment{}, ErrTOTPAlreadyEnabled
	}
	secret, err := s.totp.GenerateSecret()
	if err != nil {
		return Enrollment{}, err
	}
	if err := s.store.SetTOTP(ctx, user.ID, secret, false, nil); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return Enrollment{}, ErrNotAuthenticated
		}
		return Enrollment{}, ErrStoreUnavailable
	}
	return Enrollment{
		Secret:          secret,
		ProvisioningURI: s.totp.ProvisioningURI(secret, user.Email),
	}, nil
}

// EnableTOTP activates two-factor auth once the user proves their
// authenticator produces valid codes for the pending secret. Returns
// the freshly generated backup codes; their plaintext is never stored
// and never shown again.
func (s *Service) EnableTOTP(ctx context.Context, sourceKey string, user models.User, code string) ([]string, error) {
	if user.TOTPEnabled {
		return nil, ErrTOTPAlreadyEnabled
	}
	// Re-read: the pending secret was written after this session's
	// user snapshot was loaded.
	fresh, err := s.store.UserByID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, ErrStoreUnavailable
	}
	if fresh.TOTPSecret == "" {
		return nil, ErrEnrollmentNotStarted
	}
	if !s.totp.VerifyCode(fresh.TOTPSecret, code, s.now()) {
		return nil, ErrInvalidCode
	}

	codes, err := totp.GenerateBackupCodes(totp.DefaultBackupCodes)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = totp.HashCode(c)
	}
	if err := s.store.SetTOTP(ctx, user.ID, fresh.TOTPSecret, true, hashes); err != nil {
		return nil, ErrStoreUnavailable
	}
	s.audit.Record(ctx, audit.EventTOTPEnabled, sourceKey, user.Email)
	return codes, nil
}

// DisableTOTP clears the enrollment: secret, enabled flag, and any
// remaining backup codes.
func (s *Service) DisableTOTP(ctx context.Context, sourceKey string, user models.User) error {
	if !user.TOTPEnabled {
		return ErrTOTPNotEnabled
	}
	if err := s.store.SetTOTP(ctx, user.ID, "", false, nil); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return ErrNotAuthenticated
		}
		return ErrStoreUnavailable
	}
	s.audit.Record(ctx, audit.EventTOTPDisabled, sourceKey, user.Email)
	return nil
}
