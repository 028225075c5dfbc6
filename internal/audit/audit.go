// Package audit appends authentication-relevant events to the security
// log. Recording is fire-and-forget: a failed append never changes the
// outcome of the authentication attempt it describes.
package audit

import (
	"context"
	"log"
	"time"

	"lodgeportal/auth-service/internal/models"
)

// Event kinds recorded by the auth subsystem.
const (
	EventLoginSuccess            = "login_success"
	EventLoginFailure            = "login_failure"
	EventLoginRateLimited        = "login_rate_limited"
	EventSecondFactorSuccess     = "second_factor_success"
	EventSecondFactorFailure     = "second_factor_failure"
	EventSecondFactorRateLimited = "second_factor_rate_limited"
	EventBackupCodeUsed          = "backup_code_used"
	EventTOTPEnabled             = "totp_enabled"
	EventTOTPDisabled            = "totp_disabled"
	EventLogout                  = "logout"
	EventSessionExpired          = "session_expired"
	EventUserCreated             = "user_created"
	EventUserDeactivated         = "user_deactivated"
	EventUserDeleted             = "user_deleted"
)

// Sink is where entries land, normally the Store.
type Sink interface {
	AppendSecurityLog(ctx context.Context, entry models.SecurityLogEntry) error
}

type Recorder struct {
	sink Sink
	now  func() time.Time
}

func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink, now: time.Now}
}

// Record appends one entry. Sink errors are swallowed and echoed to
// the process log as a secondary diagnostic channel.
func (r *Recorder) Record(ctx context.Context, event, source, detail string) {
	if r == nil || r.sink == nil {
		return
	}
	entry := models.SecurityLogEntry{
		Timestamp: r.now().UTC(),
		Source:    source,
		Event:     event,
		Detail:    detail,
	}
	if err := r.sink.AppendSecurityLog(ctx, entry); err != nil {
		log.Printf("audit: append failed event=%s source=%s: %v", event, source, err)
	}
}
