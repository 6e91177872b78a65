package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuerIssuesBearerTokens(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		TokenTTL:      30 * time.Minute,
	})

	tokenString, err := issuer.IssueToken("user-123")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}

	parser := jwt.Parser{}
	claims := &jwt.RegisteredClaims{}
	_, err = parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}

	if claims.Subject != "user-123" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != tokenIssuer {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
}

func TestTokenIssuerValidatesIssuedTokens(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("another-secret"),
		TokenTTL:      time.Hour,
	})

	tokenString, err := issuer.IssueToken("user-456")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}

	subject, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected valid token: %v", err)
	}
	if subject != "user-456" {
		t.Fatalf("unexpected subject %s", subject)
	}
}

func TestTokenIssuerRejectsExpiredTokens(t *testing.T) {
	issuedAt := time.Unix(1_700_000_000, 0)
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return issuedAt },
	})

	tokenString, err := issuer.IssueToken("user-789")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}

	validator := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return issuedAt.Add(2 * time.Minute) },
	})
	if _, err := validator.ValidateToken(tokenString); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestTokenIssuerRejectsForeignSignature(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret-a")})
	tokenString, err := issuer.IssueToken("user-1")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}

	other := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret-b")})
	if _, err := other.ValidateToken(tokenString); err == nil {
		t.Fatal("expected foreign signature to be rejected")
	}
}

func TestTokenIssuerRequiresSubject(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret")})
	if _, err := issuer.IssueToken(""); err == nil {
		t.Fatal("expected issuance without subject to fail")
	}
}
