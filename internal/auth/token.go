package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"compass/api/internal/rbac"
)

// tokenIssuer pins tokens to this deployment. Tokens minted by anything
// else, even with the same claim shape, do not verify.
const tokenIssuer = "compass"

type Claims struct {
	Iss  string `json:"iss"`
	Sub  string `json:"sub"`
	Name string `json:"name"`
	Role string `json:"role"`
	JTI  string `json:"jti"`
	Exp  int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// IssueToken stamps the compass issuer and refuses to mint a token with
// an incomplete claim set or a role the access matrix does not know.
func IssueToken(secret []byte, claims Claims) (string, error) {
	claims.Iss = tokenIssuer
	if err := validateClaims(claims); err != nil {
		return "", err
	}
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signature := sign(secret, payload)
	return payload + "." + signature, nil
}

// ParseToken rejects anything that does not carry a valid signature, the
// compass issuer, and a complete claim set. Malformed input is an error,
// never a downgraded anonymous session.
func ParseToken(secret []byte, token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Claims{}, ErrInvalidToken
	}
	payload := parts[0]
	signature := parts[1]

	expected := sign(secret, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return Claims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if err := validateClaims(claims); err != nil {
		return Claims{}, err
	}
	if time.Now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

// validateClaims enforces the compass claim contract. Guest is the
// absence of a session, so a signed token naming it is forged or stale.
func validateClaims(claims Claims) error {
	if claims.Iss != tokenIssuer {
		return ErrInvalidToken
	}
	if claims.Sub == "" || claims.Name == "" || claims.JTI == "" || claims.Exp == 0 {
		return ErrInvalidToken
	}
	role := rbac.Normalize(claims.Role)
	if role == rbac.RoleGuest || string(role) != claims.Role {
		return ErrInvalidToken
	}
	return nil
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}

func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
