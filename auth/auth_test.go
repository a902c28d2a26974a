package auth

import (
	"errors"
	"testing"
	"time"
)

func TestJWTAuthenticator_RoundTrip(t *testing.T) {
	token, err := GenerateToken("secret", 42, "alpha", 7, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	identity, err := NewJWTAuthenticator("secret").Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	if identity.UserID != 42 {
		t.Errorf("Expected user ID 42, got %d", identity.UserID)
	}
	if identity.Nickname != "alpha" {
		t.Errorf("Expected nickname alpha, got %s", identity.Nickname)
	}
	if identity.Level != 7 {
		t.Errorf("Expected level 7, got %d", identity.Level)
	}
}

func TestJWTAuthenticator_WrongSecret(t *testing.T) {
	token, err := GenerateToken("secret", 42, "alpha", 7, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := NewJWTAuthenticator("other").Authenticate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestJWTAuthenticator_Expired(t *testing.T) {
	token, err := GenerateToken("secret", 42, "alpha", 7, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	authenticator := NewJWTAuthenticator("secret")
	authenticator.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if _, err := authenticator.Authenticate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for an expired token, got %v", err)
	}
}

func TestJWTAuthenticator_EmptyToken(t *testing.T) {
	if _, err := NewJWTAuthenticator("secret").Authenticate(""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for an empty token, got %v", err)
	}
}

func TestJWTAuthenticator_MissingUserID(t *testing.T) {
	token, err := GenerateToken("secret", 0, "alpha", 7, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := NewJWTAuthenticator("secret").Authenticate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken without a user id, got %v", err)
	}
}
