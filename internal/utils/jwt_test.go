package utils

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateAndParseToken(t *testing.T) {
	SetJWTSecret("jwt-test-secret")

	tok, err := GenerateToken(7, "merchant", "admin", 2)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if strings.Count(tok, ".") != 2 {
		t.Fatalf("token %q is not a compact JWS", tok)
	}

	claims, err := ParseToken(tok)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.UserID != 7 || claims.Username != "merchant" || claims.Role != "admin" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Subject != "7" || claims.Issuer != "storepilot" || claims.ID == "" {
		t.Errorf("registered claims = sub %q iss %q jti %q", claims.Subject, claims.Issuer, claims.ID)
	}
	if ttl := time.Until(claims.ExpiresAt.Time); ttl < 119*time.Minute || ttl > 2*time.Hour {
		t.Errorf("ttl = %v, want about 2h", ttl)
	}

	again, _ := GenerateToken(7, "merchant", "admin", 2)
	if again == tok {
		t.Error("tokens for the same user should differ by jti")
	}
}

func TestParseToken_Rejects(t *testing.T) {
	SetJWTSecret("jwt-test-secret")
	expired, _ := GenerateToken(1, "u", "user", -1)

	SetJWTSecret("other-secret")
	foreign, _ := GenerateToken(1, "u", "user", 1)
	SetJWTSecret("jwt-test-secret")

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "abc.def.ghi"},
		{"expired", expired},
		{"wrong secret", foreign},
		{"unsigned", "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJ1c2VyX2lkIjoxfQ."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.token); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
