package session

import (
	"errors"
	"testing"
	"time"

	"github.com/wglabs/lifeos/internal/auth/user"
	apperrors "github.com/wglabs/lifeos/internal/platform/errors"
)

func testConfig() Config {
	return Config{Secret: "test-secret", Issuer: "lifeos-auth", TTL: 15 * time.Minute}
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	issuer := NewIssuer(testConfig(), func() time.Time { return fixed })

	payload := Payload{UserID: "user-1", Email: "person@example.com", Role: "member", BiometricEnabled: true}
	token, err := issuer.Issue(payload)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	got, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if got != payload {
		t.Fatalf("expected payload %+v, got %+v", payload, got)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	issued := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := issued

	issuer := NewIssuer(testConfig(), func() time.Time { return now })
	token, err := issuer.Issue(Payload{UserID: "user-1"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	now = issued.Add(15*time.Minute + time.Second)
	if _, err := issuer.Validate(token); apperrors.GetCode(err) != apperrors.CodeSessionExpired {
		t.Fatalf("expected session expired, got %v", err)
	}
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	issuer := NewIssuer(testConfig(), func() time.Time { return fixed })
	token, err := issuer.Issue(Payload{UserID: "user-1"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	other := NewIssuer(Config{Secret: "different-secret", Issuer: "lifeos-auth", TTL: 15 * time.Minute}, func() time.Time { return fixed })
	if _, err := other.Validate(token); apperrors.GetCode(err) != apperrors.CodeSessionInvalid {
		t.Fatalf("expected session invalid, got %v", err)
	}
}

func TestValidateRejectsEmptyToken(t *testing.T) {
	issuer := NewIssuer(testConfig(), nil)
	if _, err := issuer.Validate("  "); apperrors.GetCode(err) != apperrors.CodeSessionInvalid {
		t.Fatalf("expected session invalid, got %v", err)
	}
}

func TestIssueRequiresSecret(t *testing.T) {
	issuer := NewIssuer(Config{TTL: time.Minute}, nil)
	if _, err := issuer.Issue(Payload{UserID: "user-1"}); err == nil {
		t.Fatal("expected issuing without a secret to fail")
	}
}

func TestPayloadFromUser(t *testing.T) {
	u := user.User{ID: "user-1", Email: "person@example.com", Role: user.RoleAdmin, BiometricEnabled: true}
	payload := PayloadFromUser(u)
	want := Payload{UserID: "user-1", Email: "person@example.com", Role: user.RoleAdmin, BiometricEnabled: true}
	if payload != want {
		t.Fatalf("expected %+v, got %+v", want, payload)
	}
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("LIFEOS_SESSION_SECRET", "secret")
	cfg := LoadConfigFromEnv()
	if cfg.TTL != DefaultTTL {
		t.Fatalf("TTL = %v, want %v", cfg.TTL, DefaultTTL)
	}
	if cfg.Issuer != "lifeos-auth" {
		t.Fatalf("Issuer = %q, want %q", cfg.Issuer, "lifeos-auth")
	}
}

func TestValidateErrorsAreTyped(t *testing.T) {
	issuer := NewIssuer(testConfig(), nil)
	_, err := issuer.Validate("not-a-token")
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected a domain error, got %T", err)
	}
}
