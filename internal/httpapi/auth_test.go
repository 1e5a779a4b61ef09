package httpapi

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-0123456789abcdef"

func TestTokenRoundTrip(t *testing.T) {
	auth := NewTokenAuth(testSecret, "possale")

	token, err := auth.Sign("cashier-7", RoleCashier, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	principal, err := auth.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if principal.Subject != "cashier-7" || principal.Role != RoleCashier {
		t.Fatalf("unexpected principal %+v", principal)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	auth := NewTokenAuth(testSecret, "possale")
	issued := time.Date(2026, time.April, 1, 8, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return issued }

	token, err := auth.Sign("cashier-7", RoleCashier, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	auth.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestParseTokenRejectsForeignSecretAndIssuer(t *testing.T) {
	auth := NewTokenAuth(testSecret, "possale")

	other, _ := NewTokenAuth("another-secret-another-secret-xx", "possale").Sign("x", RoleAdmin, time.Hour)
	if _, err := auth.ParseToken(other); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	wrongIssuer, _ := NewTokenAuth(testSecret, "someone-else").Sign("x", RoleAdmin, time.Hour)
	if _, err := auth.ParseToken(wrongIssuer); err == nil {
		t.Fatalf("expected token from another issuer to be rejected")
	}
}

func TestParseTokenRejectsNoneAlgorithm(t *testing.T) {
	auth := NewTokenAuth(testSecret, "possale")
	claims := posClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "admin",
			Issuer:    "possale",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: RoleAdmin,
	}
	unsigned, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, claims).SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("build unsigned token: %v", err)
	}
	if _, err := auth.ParseToken(unsigned); err == nil {
		t.Fatalf("expected alg=none token to be rejected")
	}
}

func TestSignRequiresSubject(t *testing.T) {
	if _, err := NewTokenAuth(testSecret, "").Sign("  ", RoleAdmin, time.Hour); err == nil {
		t.Fatalf("expected empty subject to be rejected")
	}
}
