package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T, clock func() time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "cryptofolio-auth",
		Audience:      "cryptofolio-api",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return issuer
}

func TestIssueCarriesRoleAndTierClaims(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	tokenString, expiresIn, err := issuer.Issue(42, "user", "premium")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn <= 0 {
		t.Fatalf("expected positive expiry seconds, got %d", expiresIn)
	}

	parser := jwt.Parser{}
	claims := &AccessClaims{}
	_, err = parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}

	if claims.Subject != "42" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Tier != "premium" || claims.Role != "user" {
		t.Fatalf("unexpected claims role=%s tier=%s", claims.Role, claims.Tier)
	}
	if claims.Issuer != "cryptofolio-auth" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "cryptofolio-api" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestValidateRoundTrip(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	tokenString, _, err := issuer.Issue(7, "admin", "free")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	claims, err := issuer.Validate(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	userID, err := claims.UserID()
	if err != nil {
		t.Fatalf("expected numeric subject: %v", err)
	}
	if userID != 7 {
		t.Fatalf("unexpected user id %d", userID)
	}
	if claims.Role != "admin" {
		t.Fatalf("unexpected role %s", claims.Role)
	}

	if _, err := issuer.Validate("invalid.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for malformed token, got %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return issuedAt }
	issuer := newTestIssuer(t, func() time.Time { return clock() })

	tokenString, _, err := issuer.Issue(7, "user", "free")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	clock = func() time.Time { return issuedAt.Add(time.Hour) }
	if _, err := issuer.Validate(tokenString); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	foreign, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("different-secret"),
		Issuer:        "cryptofolio-auth",
		Audience:      "cryptofolio-api",
		TokenTTL:      30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, _, err := foreign.Issue(7, "user", "free")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	if _, err := issuer.Validate(tokenString); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
}

func TestNewTokenIssuerValidatesConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    TokenIssuerConfig
		expectErr error
	}{
		{
			name:      "missing-secret",
			config:    TokenIssuerConfig{Issuer: "a", Audience: "b", TokenTTL: time.Minute},
			expectErr: ErrMissingSigningSecret,
		},
		{
			name:      "missing-issuer",
			config:    TokenIssuerConfig{SigningSecret: []byte("s"), Audience: "b", TokenTTL: time.Minute},
			expectErr: ErrMissingIssuer,
		},
		{
			name:      "blank-audience",
			config:    TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: "a", Audience: " ", TokenTTL: time.Minute},
			expectErr: ErrMissingAudience,
		},
		{
			name:      "non-positive-ttl",
			config:    TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: "a", Audience: "b"},
			expectErr: ErrNonPositiveTokenTTL,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTokenIssuer(tt.config); !errors.Is(err, tt.expectErr) {
				t.Fatalf("expected %v, got %v", tt.expectErr, err)
			}
		})
	}
}
