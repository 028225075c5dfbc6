package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lodgeportal/auth-service/internal/auth"
	"lodgeportal/auth-service/internal/models"
	"lodgeportal/auth-service/internal/store"
)

// AuthService is the slice of the orchestrator the HTTP layer needs.
// Handlers map its outcomes to statuses; they never reason about
// credentials themselves.
type AuthService interface {
	Login(ctx context.Context, sourceKey, email, password string) (auth.LoginResult, error)
	VerifySecondFactor(ctx context.Context, sourceKey, challengeID, code, backupCode string) (auth.LoginResult, error)
	Validate(ctx context.Context, token string) (models.User, error)
	Logout(ctx context.Context, sourceKey, token string) error
	BeginTOTPEnrollment(ctx context.Context, user models.User) (auth.Enrollment, error)
	EnableTOTP(ctx context.Context, sourceKey string, user models.User, code string) ([]string, error)
	DisableTOTP(ctx context.Context, sourceKey string, user models.User) error
	CreateUser(ctx context.Context, sourceKey string, actor models.User, input auth.CreateUserInput) (models.User, error)
	DeactivateUser(ctx context.Context, sourceKey string, actor models.User, userID string) error
	DeleteUser(ctx context.Context, sourceKey string, actor models.User, userID string) error
	RecentSecurityLog(ctx context.Context, actor models.User, limit int) ([]models.SecurityLogEntry, error)
}

type Handler struct {
	auth AuthService
}

func NewHandler(auth AuthService) *Handler {
	return &Handler{auth: auth}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/login/2fa", h.handleSecondFactor)
	mux.HandleFunc("/api/auth/logout", h.handleLogout)
	mux.HandleFunc("/api/auth/me", h.handleMe)
	mux.HandleFunc("/api/auth/2fa/setup", h.handleTwoFactorSetup)
	mux.HandleFunc("/api/auth/2fa/enable", h.handleTwoFactorEnable)
	mux.HandleFunc("/api/auth/2fa/disable", h.handleTwoFactorDisable)
	mux.HandleFunc("/api/auth/users", h.handleCreateUser)
	mux.HandleFunc("/api/auth/users/", h.handleUserByID)
	mux.HandleFunc("/api/auth/security-log", h.handleSecurityLog)
	return mux
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	SessionToken string   `json:"session_token,omitempty"`
	ExpiresAt    string   `json:"expires_at,omitempty"`
	User         userInfo `json:"user"`
}

type challengeResponse struct {
	Challenge2FA bool   `json:"challenge_2fa"`
	ChallengeID  string `json:"challenge_id"`
}

type userInfo struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	TOTPEnabled bool   `json:"totp_enabled"`
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toUserInfo(u models.User) userInfo {
	return userInfo{
		UserID:      u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        string(u.Role),
		TOTPEnabled: u.TOTPEnabled,
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	result, err := h.auth.Login(r.Context(), clientIP(r), req.Email, req.Password)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	if result.SecondFactorRequired() {
		writeJSON(w, http.StatusOK, challengeResponse{Challenge2FA: true, ChallengeID: result.ChallengeID})
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		SessionToken: result.SessionToken,
		ExpiresAt:    result.ExpiresAt.Format(time.RFC3339),
		User:         toUserInfo(result.User),
	})
}

func (h *Handler) handleSecondFactor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ChallengeID string `json:"challenge_id"`
		Code        string `json:"code"`
		BackupCode  string `json:"backup_code"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.ChallengeID == "" || (req.Code == "" && req.BackupCode == "") {
		writeError(w, http.StatusBadRequest, "invalid_request", "challenge_id and code or backup_code are required")
		return
	}

	result, err := h.auth.VerifySecondFactor(r.Context(), clientIP(r), req.ChallengeID, req.Code, req.BackupCode)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		SessionToken: result.SessionToken,
		ExpiresAt:    result.ExpiresAt.Format(time.RFC3339),
		User:         toUserInfo(result.User),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.auth.Logout(r.Context(), clientIP(r), bearerToken(r.Header.Get("Authorization"))); err != nil {
		h.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	user, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toUserInfo(user))
}

func (h *Handler) handleTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	user, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	enrollment, err := h.auth.BeginTOTPEnrollment(r.Context(), user)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"secret":      enrollment.Secret,
		"otpauth_uri": enrollment.ProvisioningURI,
	})
}

func (h *Handler) handleTwoFactorEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	user, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	backupCodes, err := h.auth.EnableTOTP(r.Context(), clientIP(r), user, req.Code)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"backup_codes": backupCodes})
}

func (h *Handler) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	user, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	if err := h.auth.DisableTOTP(r.Context(), clientIP(r), user); err != nil {
		h.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Role     string `json:"role"`
		Password string `json:"password"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	created, err := h.auth.CreateUser(r.Context(), clientIP(r), actor, auth.CreateUserInput{
		Email:    req.Email,
		Name:     req.Name,
		Role:     models.Role(req.Role),
		Password: req.Password,
	})
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserInfo(created))
}

func (h *Handler) handleUserByID(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/auth/users/")
	switch {
	case r.Method == http.MethodDelete && rest != "" && !strings.Contains(rest, "/"):
		if err := h.auth.DeleteUser(r.Context(), clientIP(r), actor, rest); err != nil {
			h.writeAuthError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	case r.Method == http.MethodPost && strings.HasSuffix(rest, "/deactivate"):
		userID := strings.TrimSuffix(rest, "/deactivate")
		if err := h.auth.DeactivateUser(r.Context(), clientIP(r), actor, userID); err != nil {
			h.writeAuthError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleSecurityLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := h.auth.RecentSecurityLog(r.Context(), actor, limit)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// requireSession resolves the bearer token or writes a 401.
func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, err := h.auth.Validate(r.Context(), bearerToken(r.Header.Get("Authorization")))
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		} else {
			h.writeAuthError(w, err)
		}
		return models.User{}, false
	}
	return user, true
}

// writeAuthError maps orchestrator outcomes onto the response
// taxonomy. Unknown errors become opaque 500s.
func (h *Handler) writeAuthError(w http.ResponseWriter, err error) {
	var rateLimited *auth.RateLimitedError
	var validation *auth.ValidationError
	switch {
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter.Seconds())))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_error", validation.Reason)
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
	case errors.Is(err, auth.ErrInvalidCode):
		writeError(w, http.StatusUnauthorized, "invalid_code", "invalid code")
	case errors.Is(err, auth.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
	case errors.Is(err, auth.ErrTOTPAlreadyEnabled),
		errors.Is(err, auth.ErrTOTPNotEnabled),
		errors.Is(err, auth.ErrEnrollmentNotStarted):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, store.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", "user not found")
	case errors.Is(err, auth.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "temporarily unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
