package crypto

import (
	"testing"
	"time"
)

func TestJWTRoundTrip(t *testing.T) {
	t.Parallel()

	m, err := NewJWTManager("test-secret")
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	token, err := m.CreateToken("operator", "sessions", time.Hour)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	claims, err := m.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Subject != "operator" || claims.Scope != "sessions" {
		t.Fatalf("claims=%+v", claims)
	}
}

func TestJWTRejectsOtherSecretAndExpiry(t *testing.T) {
	t.Parallel()

	a, _ := NewJWTManager("secret-a")
	b, _ := NewJWTManager("secret-b")

	token, err := a.CreateToken("operator", "", time.Minute)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if _, err := b.VerifyToken(token); err == nil {
		t.Fatalf("expected verification with another secret to fail")
	}

	a.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := a.VerifyToken(token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestNewJWTManagerRequiresSecret(t *testing.T) {
	t.Parallel()

	if _, err := NewJWTManager("  "); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestDigestPIN(t *testing.T) {
	t.Parallel()

	d1 := DigestPIN("session_a", "0202")
	if d1.IsZero() {
		t.Fatalf("digest should not be zero")
	}
	if !d1.Equal(DigestPIN("session_a", "0202")) {
		t.Fatalf("same input should give same digest")
	}
	if d1.Equal(DigestPIN("session_a", "0303")) {
		t.Fatalf("different pin should differ")
	}
	if d1.Equal(DigestPIN("session_b", "0202")) {
		t.Fatalf("different session should differ")
	}
	long := DigestPIN(string(make([]byte, 100)), "0202")
	if long.IsZero() {
		t.Fatalf("long key digest should not be zero")
	}
}
