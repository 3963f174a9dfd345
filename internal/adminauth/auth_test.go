package adminauth

import (
	"testing"
	"time"
)

func TestLoginAndValidateTokenRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	svc := NewService(hash, "test-secret", time.Hour)

	if !svc.Enabled() {
		t.Fatalf("expected Enabled() true once hash and secret are set")
	}

	token, err := svc.Login("correct-horse")
	if err != nil {
		t.Fatalf("Login with correct password returned error: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken returned error: %v", err)
	}
	if claims.Role != "admin" {
		t.Fatalf("claims.Role = %q, want admin", claims.Role)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	hash, _ := HashPassword("correct-horse")
	svc := NewService(hash, "test-secret", time.Hour)

	if _, err := svc.Login("wrong-password"); err != ErrInvalidCredentials {
		t.Fatalf("Login with wrong password returned %v, want ErrInvalidCredentials", err)
	}
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	hash, _ := HashPassword("correct-horse")
	issuer := NewService(hash, "secret-a", time.Hour)
	verifier := NewService(hash, "secret-b", time.Hour)

	token, err := issuer.Login("correct-horse")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if _, err := verifier.ValidateToken(token); err == nil {
		t.Fatalf("expected ValidateToken to reject a token signed with a different secret")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	hash, _ := HashPassword("correct-horse")
	svc := NewService(hash, "test-secret", -time.Minute) // already expired at issuance

	token, err := svc.Login("correct-horse")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatalf("expected ValidateToken to reject an expired token")
	}
}

func TestDisabledWhenHashOrSecretMissing(t *testing.T) {
	if (&Service{}).Enabled() {
		t.Fatalf("expected a zero-value Service to report Enabled() false")
	}
}
