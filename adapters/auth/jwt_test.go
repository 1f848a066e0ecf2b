package auth

import (
	"testing"
	"time"
)

func TestGenerateAndVerify(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)

	signed, expiresAt, err := svc.Generate("u-1", "trader@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Error("token should expire in the future")
	}

	claims, err := svc.Verify(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "u-1" || claims.Email != "trader@example.com" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	signed, _, err := NewTokenService("secret-a", time.Hour).Generate("u-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewTokenService("secret-b", time.Hour).Verify(signed); err == nil {
		t.Error("token signed with a different secret must fail")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc := NewTokenService("test-secret", -time.Minute)
	signed, _, err := svc.Generate("u-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Verify(signed); err == nil {
		t.Error("expired token must fail verification")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	if _, err := svc.Verify("not.a.token"); err == nil {
		t.Error("garbage must fail verification")
	}
}

func TestGenerateSecret(t *testing.T) {
	a, b := GenerateSecret(), GenerateSecret()
	if len(a) != 64 || a == b {
		t.Errorf("secrets: %q %q", a, b)
	}
}
