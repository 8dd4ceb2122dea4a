package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "user-1",
		Name: "Alice",
		Role: "owner",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "user-1" || claims.Name != "Alice" || claims.Role != "owner" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "user-1",
		Name: "Alice",
		Role: "owner",
		JTI:  "jti-1",
		Exp:  time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	secret := []byte("secret")
	inputs := []string{
		"",
		"not-a-token",
		"a.b.c",
		"!!!.signature",
		"eyJzdWIiOiJ1LTEifQ.forged-signature",
	}
	for _, input := range inputs {
		if _, err := ParseToken(secret, input); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ParseToken(%q) = %v, want ErrInvalidToken", input, err)
		}
	}
}

func TestIssueTokenRejectsUnknownRole(t *testing.T) {
	secret := []byte("secret")
	for _, role := range []string{"", "guest", "superadmin"} {
		_, err := IssueToken(secret, Claims{
			Sub:  "user-1",
			Name: "Alice",
			Role: role,
			JTI:  "jti-1",
			Exp:  time.Now().Add(time.Hour).Unix(),
		})
		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("IssueToken(role=%q) = %v, want ErrInvalidToken", role, err)
		}
	}
}

func TestParseTokenRejectsForeignIssuer(t *testing.T) {
	secret := []byte("secret")
	payloadBytes, err := json.Marshal(Claims{
		Iss:  "someone-else",
		Sub:  "user-1",
		Name: "Alice",
		Role: "owner",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	forged := payload + "." + sign(secret, payload)

	if _, err := ParseToken(secret, forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign issuer, got %v", err)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issued, err := IssueToken([]byte("secret-a"), Claims{
		Sub:  "user-1",
		Name: "Alice",
		Role: "owner",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("secret-b"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}
