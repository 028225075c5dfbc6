package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"lodgeportal/auth-service/internal/audit"
	"lodgeportal/auth-service/internal/models"
	"lodgeportal/auth-service/internal/password"
	"lodgeportal/auth-service/internal/ratelimit"
	"lodgeportal/auth-service/internal/store"
	"lodgeportal/auth-service/internal/store/memory"
	"lodgeportal/auth-service/internal/totp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const compliantPassword = "Tr4vel-Widely&Often!"

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	svc := NewService(st, ratelimit.NewMemory(), totp.NewEngine("Lodge Portal"), audit.NewRecorder(st), DefaultConfig())
	return svc, st
}

func createMember(t *testing.T, st *memory.Store, email, pw string) models.User {
	t.Helper()
	hash, err := password.Hash(pw)
	require.NoError(t, err)
	user, err := st.CreateUser(context.Background(), store.NewUser{
		Email:        email,
		Name:         "Alice",
		Role:         models.RoleMember,
		PasswordHash: hash,
	})
	require.NoError(t, err)
	return user
}

func enrollTOTP(t *testing.T, svc *Service, st *memory.Store, user models.User) string {
	t.Helper()
	ctx := context.Background()
	enrollment, err := svc.BeginTOTPEnrollment(ctx, user)
	require.NoError(t, err)

	code, err := svc.totp.CodeAt(enrollment.Secret, time.Now())
	require.NoError(t, err)
	_, err = svc.EnableTOTP(ctx, "10.0.0.1", user, code)
	require.NoError(t, err)
	return enrollment.Secret
}

// Scenario: password-only account logs in and receives a token
// directly, with no challenge step.
func TestLoginWithoutSecondFactor(t *testing.T) {
	svc, st := newTestService(t)
	createMember(t, st, "alice@example.com", compliantPassword)

	result, err := svc.Login(context.Background(), "10.0.0.1", "alice@example.com", compliantPassword)
	require.NoError(t, err)
	assert.False(t, result.SecondFactorRequired())
	assert.NotEmpty(t, result.SessionToken)

	user, err := svc.Validate(context.Background(), result.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	require.NotNil(t, user.LastLogin)
}

func TestLoginNormalizesEmail(t *testing.T) {
	svc, st := newTestService(t)
	createMember(t, st, "alice@example.com", compliantPassword)

	result, err := svc.Login(context.Background(), "10.0.0.1", "  ALICE@Example.Com ", compliantPassword)
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionToken)
}

func TestLoginGenericRejections(t *testing.T) {
	svc, st := newTestService(t)
	user := createMember(t, st, "alice@example.com", compliantPassword)
	ctx := context.Background()

	// Wrong password, unknown account, and inactive account must be
	// indistinguishable to the caller.
	_, wrongPw := svc.Login(ctx, "10.0.0.1", "alice@example.com", "wrong password 123!")
	_, unknown := svc.Login(ctx, "10.0.0.1", "nobody@example.com", compliantPassword)
	require.NoError(t, st.SetActive(ctx, user.ID, false))
	_, inactive := svc.Login(ctx, "10.0.0.1", "alice@example.com", compliantPassword)

	for _, err := range []error{wrongPw, unknown, inactive} {
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
}

// Scenario: enabling 2FA turns login into a challenge handshake.
func TestLoginWithSecondFactor(t *testing.T) {
	svc, st := newTestService(t)
	user := createMember(t, st, "alice@example.com", compliantPassword)
	secret := enrollTOTP(t, svc, st, user)
	ctx := context.Background()

	result, err := svc.Login(ctx, "10.0.0.1", "alice@example.com", compliantPassword)
	require.NoError(t, err)
	require.True(t, result.SecondFactorRequired())
	assert.Empty(t, result.SessionToken, "no session before the second factor")

	// A stale code is rejected and consumes the challenge.
	stale, err := svc.totp.CodeAt(secret, time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	_, err = svc.VerifySecondFactor(ctx, "10.0.0.1", result.ChallengeID, stale, "")
	assert.ErrorIs(t, err, ErrInvalidCode)

	// The consumed challenge cannot be retried even with a good code.
	current, err := svc.totp.CodeAt(secret, time.Now())
	require.NoError(t, err)
	_, err = svc.VerifySecondFactor(ctx, "10.0.0.1", result.ChallengeID, current, "")
	assert.ErrorIs(t, err, ErrInvalidCode)

	// Fresh password step, correct code: session issued.
	result, err = svc.Login(ctx, "10.0.0.1", "alice@example.com", compliantPassword)
	require.NoError(t, err)
	current, err = svc.totp.CodeAt(secret, time.Now())
	require.NoError(t, err)
	verified, err := svc.VerifySecondFactor(ctx, "10.0.0.1", result.ChallengeID, current, "")
	require.NoError(t, err)
	assert.NotEmpty(t, verified.SessionToken)
}

func TestSecondFactorChallengeExpiry(t *testing.T) {
	svc, st := newTestService(t)
	user := createMember(t, st, "alice@example.com", compliantPassword)
	secret := enrollTOTP(t, svc, st, user)
	ctx := context.Background()

	result, err := svc.Login(ctx, "10.0.0.1", "alice@example.com", compliantPassword)
	require.NoError(t, err)

	// Jump past the challenge TTL.
	svc.now = func() time.Time { return time.Now().Add(6 * time.Minute) }
	code, err := svc.totp.CodeAt(secret, svc.now())
	require.NoError(t, err)
	_, err = svc.VerifySecondFactor(ctx, "10.0.0.1", result.ChallengeID, code, "")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

// Scenario: five wrong passwords exhaust the budget; the sixth attempt
// is rejected even with correct credentials.
func TestLoginRateLimiting(t *testing.T) {
	svc, st := newTestService(t)
	createMember(t, st, "alice@example.com", compliantPassword)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Login(ctx, "10.0.0.1", "alice@example.com", "wrong password 123!")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := svc.Login(ctx, "10.0.0.1", "alice@example.com", compliantPassword)
	var rateLimited *RateLimitedError
	require.ErrorAs(t, err, &rateLimited)
	assert.Equal(t, 15*time.Minute, rateLimited.RetryAfter)

	// A different source address is unaffected.
	result, err := svc.Login(ctx, "10.9.9.9", "alice@example.com", compliantPassword)
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionToken)
}

// Scenario: a backup code substitutes for a TOTP code exactly once.
func TestBackupCodeConsumption(t *testing.T) {
	svc, st := newTestService(t)
	user := createMember(t, st, "alice@example.com", compliantPassword)
	ctx := context.Background()

	enrollment, err := svc.BeginTOTPEnrollment(ctx, user)
	require.NoError(t, err)
	code, err := svc.totp.CodeAt(enrollment.Secret, time.Now())
	require.NoError(t, err)
	backupCodes, err := svc.EnableTOTP(ctx, "10.0.0.1", user, code)
	require.NoError(t, err)
	require.Len(t, backupCodes, 10)

	login := func() string {
		result, err := svc.Login(ctx, "10.0.0.1", "alice@example.com", compliantPassword)
		require.NoError(t, err)
		require.True(t, result.SecondFactorRequired())
		return result.ChallengeID
	}

	verified, err := svc.VerifySecondFactor(ctx, "10.0.0.1", login(), "", backupCodes[0])
	require.NoError(t, err)
	assert.NotEmpty(t, verified.SessionToken)

	// Reuse is rejected; the other nine remain valid.
	_, err = svc.VerifySecondFactor(ctx, "10.0.0.1", login(), "", backupCodes[0])
	assert.ErrorIs(t, err, ErrInvalidCode)

	verified, err = svc.VerifySecondFactor(ctx, "10.0.0.1", login(), "", backupCodes[1])
	require.NoError(t, err)
	assert.NotEmpty(t, verified.SessionToken)

	stored, err := st.UserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, stored.BackupCodes, 8)
}

func TestSessionExpiryBoundary(t *testing.T) {
	svc, st := newTestService(t)
	createMember(t, st, "alice@example.com", compliantPassword)
	ctx := context.Background()

	start := time.Now()
	svc.now = func() time.Time { return start }
	result, err := svc.Login(ctx, "10.0.0.1", "alice@example.com", compliantPassword)
	require.NoError(t, err)

	// Just inside the TTL.
	svc.now = func() time.Time { return start.Add(7*24*time.Hour - time.Second) }
	_, err = svc.Validate(ctx, result.SessionToken)
	assert.NoError(t, err)

	// At and past the TTL.
	svc.now = func() time.Time { return start.Add(7 * 24 * time.Hour) }
	_, err = svc.Validate(ctx, result.SessionToken)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestValidateUnknownToken(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Validate(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = svc.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestDeactivationInvalidatesSessions(t *testing.T) {
	svc, st := newTestService(t)
	user := createMember(t, st, "alice@example.com", compliantPassword)
	ctx := context.Background()

	result, err := svc.Login(ctx, "10.0.0.1", "alice@example.com", compliantPassword)
	require.NoError(t, err)

	// Deactivate without deleting the session row.
	require.NoError(t, st.SetActive(ctx, user.ID, false))
	_, err = svc.Validate(ctx, result.SessionToken)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestDeleteUserCascadesSessions(t *testing.T) {
	svc, st := newTestService(t)
	admin := createAdmin(t, st)
	user := createMember(t, st, "alice@example.com", compliantPassword)
	ctx := context.Background()

	first, err := svc.Login(ctx, "10.0.0.1", "alice@example.com", compliantPassword)
	require.NoError(t, err)
	second, err := svc.Login(ctx, "10.0.0.2", "alice@example.com", compliantPassword)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUser(ctx, "10.0.0.9", admin, user.ID))

	for _, token := range []string{first.SessionToken, second.SessionToken} {
		_, err := svc.Validate(ctx, token)
		assert.ErrorIs(t, err, ErrNotAuthenticated)
	}
}

func TestLogoutIdempotent(t *testing.T) {
	svc, st := newTestService(t)
	createMember(t, st, "alice@example.com", compliantPassword)
	ctx := context.Background()

	result, err := svc.Login(ctx, "10.0.0.1", "alice@example.com", compliantPassword)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, "10.0.0.1", result.SessionToken))
	require.NoError(t, svc.Logout(ctx, "10.0.0.1", result.SessionToken))
	_, err = svc.Validate(ctx, result.SessionToken)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSweepExpired(t *testing.T) {
	svc, st := newTestService(t)
	createMember(t, st, "alice@example.com", compliantPassword)
	ctx := context.Background()

	start := time.Now()
	svc.now = func() time.Time { return start }
	_, err := svc.Login(ctx, "10.0.0.1", "alice@example.com", compliantPassword)
	require.NoError(t, err)

	svc.now = func() time.Time { return start.Add(8 * 24 * time.Hour) }
	count, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func createAdmin(t *testing.T, st *memory.Store) models.User {
	t.Helper()
	hash, err := password.Hash(compliantPassword)
	require.NoError(t, err)
	admin, err := st.CreateUser(context.Background(), store.NewUser{
		Email:        "secretary@example.com",
		Name:         "Secretary",
		Role:         models.RoleAdmin,
		PasswordHash: hash,
	})
	require.NoError(t, err)
	return admin
}

func TestCreateUserRequiresPermission(t *testing.T) {
	svc, st := newTestService(t)
	member := createMember(t, st, "alice@example.com", compliantPassword)

	_, err := svc.CreateUser(context.Background(), "10.0.0.1", member, CreateUserInput{
		Email:    "bob@example.com",
		Password: compliantPassword,
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreateUserValidation(t *testing.T) {
	svc, st := newTestService(t)
	admin := createAdmin(t, st)
	ctx := context.Background()

	var validation *ValidationError

	_, err := svc.CreateUser(ctx, "10.0.0.1", admin, CreateUserInput{Email: "not-an-email", Password: compliantPassword})
	require.ErrorAs(t, err, &validation)

	_, err = svc.CreateUser(ctx, "10.0.0.1", admin, CreateUserInput{Email: "bob@example.com", Password: "short"})
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Reason, "at least 14 characters")

	// Strong but past bcrypt's input limit: must come back as a
	// validation failure, not a hashing error.
	_, err = svc.CreateUser(ctx, "10.0.0.1", admin, CreateUserInput{Email: "bob@example.com", Password: strings.Repeat("Ab3!", 20)})
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Reason, "at most 72 bytes")

	created, err := svc.CreateUser(ctx, "10.0.0.1", admin, CreateUserInput{
		Email:    "Bob@Example.com",
		Name:     "Bob",
		Password: compliantPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", created.Email)
	assert.Equal(t, models.RoleMember, created.Role)

	_, err = svc.CreateUser(ctx, "10.0.0.1", admin, CreateUserInput{Email: "bob@example.com", Password: compliantPassword})
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Reason, "already registered")
}

// A config that sets only the minimum length still gets the default
// character-class requirement.
func TestPartialPasswordPolicyKeepsClassRule(t *testing.T) {
	st := memory.NewStore()
	svc := NewService(st, ratelimit.NewMemory(), totp.NewEngine("Lodge Portal"), audit.NewRecorder(st), Config{
		PasswordPolicy: password.Policy{MinLength: 20},
	})
	admin := createAdmin(t, st)

	var validation *ValidationError
	_, err := svc.CreateUser(context.Background(), "10.0.0.1", admin, CreateUserInput{
		Email:    "bob@example.com",
		Password: "onlylowercaseletterstoo",
	})
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Reason, "uppercase, lowercase, digits, symbols")
}

func TestDeactivateUserRevokesSessions(t *testing.T) {
	svc, st := newTestService(t)
	admin := createAdmin(t, st)
	user := createMember(t, st, "alice@example.com", compliantPassword)
	ctx := context.Background()

	result, err := svc.Login(ctx, "10.0.0.1", "alice@example.com", compliantPassword)
	require.NoError(t, err)

	require.NoError(t, svc.DeactivateUser(ctx, "10.0.0.9", admin, user.ID))
	_, err = svc.Validate(ctx, result.SessionToken)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = svc.Login(ctx, "10.0.0.1", "alice@example.com", compliantPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRecentSecurityLogPermissions(t *testing.T) {
	svc, st := newTestService(t)
	admin := createAdmin(t, st)
	member := createMember(t, st, "alice@example.com", compliantPassword)
	ctx := context.Background()

	_, err := svc.Login(ctx, "10.0.0.1", "alice@example.com", "wrong password 123!")
	require.Error(t, err)

	_, err = svc.RecentSecurityLog(ctx, member, 10)
	assert.ErrorIs(t, err, ErrForbidden)

	entries, err := svc.RecentSecurityLog(ctx, admin, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, audit.EventLoginFailure, entries[0].Event)
}

func TestAuditTrailPerOutcome(t *testing.T) {
	svc, st := newTestService(t)
	admin := createAdmin(t, st)
	createMember(t, st, "alice@example.com", compliantPassword)
	ctx := context.Background()

	_, err := svc.Login(ctx, "10.0.0.1", "alice@example.com", compliantPassword)
	require.NoError(t, err)
	_, err = svc.Login(ctx, "10.0.0.1", "alice@example.com", "wrong password 123!")
	require.Error(t, err)

	entries, err := svc.RecentSecurityLog(ctx, admin, 10)
	require.NoError(t, err)

	events := make([]string, len(entries))
	for i, e := range entries {
		events[i] = e.Event
	}
	assert.Contains(t, events, audit.EventLoginSuccess)
	assert.Contains(t, events, audit.EventLoginFailure)
}

func TestGateDownload(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		assert.True(t, svc.GateDownload(ctx, "10.0.0.1"))
	}
	assert.False(t, svc.GateDownload(ctx, "10.0.0.1"))
	assert.True(t, svc.GateDownload(ctx, "10.0.0.2"))
}

func TestStoreFaultsAreNotCredentialFailures(t *testing.T) {
	st := memory.NewStore()
	svc := NewService(failingStore{st}, ratelimit.NewMemory(), totp.NewEngine("Lodge Portal"), audit.NewRecorder(st), DefaultConfig())

	_, err := svc.Login(context.Background(), "10.0.0.1", "alice@example.com", compliantPassword)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

// failingStore delegates to a memory store but fails user lookups the
// way an unreachable database would.
type failingStore struct {
	*memory.Store
}

func (failingStore) UserByEmail(context.Context, string) (models.User, error) {
	return models.User{}, errors.New("connection refused")
}
