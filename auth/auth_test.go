package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	access, refresh, err := svc.GenerateTokenPair("u-1")
	if err != nil {
		t.Fatalf("GenerateTokenPair: %v", err)
	}

	userID, err := svc.ValidateToken(access)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if userID != "u-1" {
		t.Errorf("expected u-1, got %s", userID)
	}

	userID, err = svc.ValidateRefreshToken(refresh)
	if err != nil {
		t.Fatalf("ValidateRefreshToken: %v", err)
	}
	if userID != "u-1" {
		t.Errorf("expected u-1 from refresh token, got %s", userID)
	}
}

func TestRefreshTokenCannotAuthenticate(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	_, refresh, err := svc.GenerateTokenPair("u-1")
	if err != nil {
		t.Fatalf("GenerateTokenPair: %v", err)
	}

	if _, err := svc.ValidateToken(refresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected refresh token rejected as access token, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	svc := NewService("test-secret", -time.Minute)

	access, _, err := svc.GenerateTokenPair("u-1")
	if err != nil {
		t.Fatalf("GenerateTokenPair: %v", err)
	}

	if _, err := svc.ValidateToken(access); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	access, _, err := NewService("secret-a", time.Hour).GenerateTokenPair("u-1")
	if err != nil {
		t.Fatalf("GenerateTokenPair: %v", err)
	}

	if _, err := NewService("secret-b", time.Hour).ValidateToken(access); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected token signed with another secret rejected, got %v", err)
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	if _, err := svc.ValidateToken("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected garbage rejected, got %v", err)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("expected the password to be hashed")
	}

	if err := CheckPassword(hash, "correct horse battery staple"); err != nil {
		t.Errorf("expected matching password accepted, got %v", err)
	}
	if err := CheckPassword(hash, "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("expected wrong password rejected with ErrBadCredentials, got %v", err)
	}
}
