package auth

import (
	"testing"
	"time"
)

func TestSessionRoundTrip(t *testing.T) {
	sessions, err := NewSessions("0123456789abcdef", time.Hour)
	if err != nil {
		t.Fatalf("new sessions: %v", err)
	}
	token, err := sessions.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := sessions.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != "user-1" {
		t.Fatalf("subject=%q, want user-1", got)
	}
}

func TestSessionRejectsWrongSecret(t *testing.T) {
	a, _ := NewSessions("0123456789abcdef", time.Hour)
	b, _ := NewSessions("fedcba9876543210", time.Hour)
	token, err := a.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(token); err == nil {
		t.Fatalf("token signed with a different secret must fail")
	}
}

func TestSessionRejectsGarbage(t *testing.T) {
	sessions, _ := NewSessions("0123456789abcdef", time.Hour)
	for _, token := range []string{"", "   ", "not.a.jwt"} {
		if _, err := sessions.Verify(token); err == nil {
			t.Fatalf("token %q should fail", token)
		}
	}
}

func TestSessionSecretTooShort(t *testing.T) {
	if _, err := NewSessions("short", time.Hour); err == nil {
		t.Fatalf("expected error for short secret")
	}
}
