package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newCapturedAuditor(enabled bool) (*Auditor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return NewAuditor(logger, enabled), &buf
}

func TestAuditorHashesSubject(t *testing.T) {
	auditor, buf := newCapturedAuditor(true)

	auditor.LogTokenIssued("alice", "oauth-client-1", "foo bar")

	out := buf.String()
	if !strings.Contains(out, EventTokenIssued) {
		t.Errorf("audit line missing event type, got: %s", out)
	}
	if strings.Contains(out, "subject_hash=alice") {
		t.Error("audit line contains raw subject identifier")
	}
	if !strings.Contains(out, "subject_hash=") {
		t.Error("audit line missing hashed subject")
	}
	if !strings.Contains(out, "oauth-client-1") {
		t.Error("audit line missing client ID")
	}
}

func TestAuditorDisabled(t *testing.T) {
	auditor, buf := newCapturedAuditor(false)

	auditor.LogAuthFailure("oauth-client-1", "invalid client credentials")

	if buf.Len() != 0 {
		t.Errorf("disabled auditor emitted output: %s", buf.String())
	}
}

func TestNilAuditorIsSafe(t *testing.T) {
	var auditor *Auditor
	// Must not panic
	auditor.LogEvent(Event{Type: EventGuardRejection})
	auditor.LogGuardRejection("invalid_token", "")
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "" {
		t.Errorf("hashForLogging(\"\") = %q, want empty", got)
	}
	a := hashForLogging("alice")
	b := hashForLogging("bob")
	if a == b {
		t.Error("different inputs produced identical hashes")
	}
	if a != hashForLogging("alice") {
		t.Error("hashing is not deterministic")
	}
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16 hex chars", len(a))
	}
}

func TestAuditorEventHook(t *testing.T) {
	auditor, _ := newCapturedAuditor(true)

	var seen []string
	auditor.SetEventHook(func(eventType string) {
		seen = append(seen, eventType)
	})

	auditor.LogCodeIssued("alice", "oauth-client-1", "foo bar")
	auditor.LogGuardRejection("invalid_token", "")

	if len(seen) != 2 {
		t.Fatalf("hook fired %d times, want 2", len(seen))
	}
	if seen[0] != EventCodeIssued || seen[1] != EventGuardRejection {
		t.Errorf("hook saw %v, want [%s %s]", seen, EventCodeIssued, EventGuardRejection)
	}
}

func TestAuditorEventHookDisabled(t *testing.T) {
	auditor, _ := newCapturedAuditor(false)

	fired := false
	auditor.SetEventHook(func(string) { fired = true })
	auditor.LogCodeIssued("alice", "oauth-client-1", "foo")

	if fired {
		t.Error("hook fired for a disabled auditor")
	}

	var nilAuditor *Auditor
	nilAuditor.SetEventHook(func(string) {}) // must not panic
}
