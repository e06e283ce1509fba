package auth

import (
	"errors"
	"testing"
	"time"
)

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyPassword("secret", hash) {
		t.Fatal("expected match")
	}
	if VerifyPassword("wrong", hash) {
		t.Fatal("expected mismatch")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	iss := NewIssuer("k", time.Hour)
	tok, err := iss.GenerateToken("admin")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := iss.ParseToken(tok)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Username != "admin" || claims.ID == "" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestTokenRejected(t *testing.T) {
	iss := NewIssuer("k", time.Minute)
	tok, _ := iss.GenerateToken("admin")

	other := NewIssuer("other", time.Minute)
	if _, err := other.ParseToken(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret err = %v", err)
	}

	iss.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := iss.ParseToken(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired err = %v", err)
	}

	if _, err := iss.ParseToken("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage err = %v", err)
	}
}
