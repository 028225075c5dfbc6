package audit

import (
	"context"
	"errors"
	"testing"

	"lodgeportal/auth-service/internal/models"
)

type failingSink struct{ calls int }

func (f *failingSink) AppendSecurityLog(context.Context, models.SecurityLogEntry) error {
	f.calls++
	return errors.New("disk full")
}

type capturingSink struct{ entries []models.SecurityLogEntry }

func (c *capturingSink) AppendSecurityLog(_ context.Context, e models.SecurityLogEntry) error {
	c.entries = append(c.entries, e)
	return nil
}

func TestRecordSwallowsSinkErrors(t *testing.T) {
	sink := &failingSink{}
	r := NewRecorder(sink)

	// Must not panic or propagate anything.
	r.Record(context.Background(), EventLoginFailure, "1.2.3.4", "bad password")
	if sink.calls != 1 {
		t.Fatalf("expected 1 append attempt, got %d", sink.calls)
	}
}

func TestRecordPopulatesEntry(t *testing.T) {
	sink := &capturingSink{}
	r := NewRecorder(sink)

	r.Record(context.Background(), EventLoginSuccess, "1.2.3.4", "alice@example.com")
	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(sink.entries))
	}
	e := sink.entries[0]
	if e.Event != EventLoginSuccess || e.Source != "1.2.3.4" || e.Timestamp.IsZero() {
		t.Fatalf("entry not populated: %+v", e)
	}
}

func TestRecordNilRecorder(t *testing.T) {
	var r *Recorder
	r.Record(context.Background(), EventLogout, "", "")
}
