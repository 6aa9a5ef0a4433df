package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-jwt-secret-that-is-32-chars-!"

func newTestIssuer(t *testing.T, ttl time.Duration) *TokenIssuer {
	t.Helper()
	ti, err := NewTokenIssuer(testSecret, ttl)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return ti
}

func TestNewTokenIssuer(t *testing.T) {
	t.Run("short secret rejected", func(t *testing.T) {
		if _, err := NewTokenIssuer("short", time.Hour); err == nil {
			t.Error("NewTokenIssuer() expected error for short secret, got nil")
		}
	})

	t.Run("zero ttl defaults to one hour", func(t *testing.T) {
		ti := newTestIssuer(t, 0)
		if ti.TTL() != time.Hour {
			t.Errorf("TTL() = %v, want 1h", ti.TTL())
		}
	})
}

func TestIssueAndValidate(t *testing.T) {
	ti := newTestIssuer(t, time.Hour)

	token, err := ti.Issue("acc-1", "root")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	claims, err := ti.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if claims.AccountID != "acc-1" {
		t.Errorf("claims.AccountID = %q, want acc-1", claims.AccountID)
	}
	if claims.Username != "root" {
		t.Errorf("claims.Username = %q, want root", claims.Username)
	}
	if claims.Subject != "acc-1" {
		t.Errorf("claims.Subject = %q, want acc-1", claims.Subject)
	}
}

func TestValidate_Expired(t *testing.T) {
	ti := newTestIssuer(t, time.Minute)
	ti.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := ti.Issue("acc-1", "root")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	ti.now = time.Now
	if _, err := ti.Validate(token); err == nil {
		t.Error("Validate() expected error for expired token, got nil")
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	token, err := newTestIssuer(t, time.Hour).Issue("acc-1", "root")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	other, err := NewTokenIssuer("another-secret-that-is-32-chars-long", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	if _, err := other.Validate(token); err == nil {
		t.Error("Validate() expected error for token signed with another secret, got nil")
	}
}

func TestValidate_RejectsNoneAlgorithm(t *testing.T) {
	ti := newTestIssuer(t, time.Hour)
	claims := &Claims{
		AccountID: "acc-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := ti.Validate(unsigned); err == nil {
		t.Error("Validate() accepted an unsigned token")
	}
}

func TestValidate_Garbage(t *testing.T) {
	ti := newTestIssuer(t, time.Hour)
	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := ti.Validate(tok); err == nil {
			t.Errorf("Validate(%q) expected error, got nil", tok)
		}
	}
}
