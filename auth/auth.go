// Package auth issues and validates the JWT pairs that gate the API.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidToken covers expired, malformed and mis-typed tokens.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrBadCredentials is returned on a failed login. Deliberately the same
	// for a missing account and a wrong password.
	ErrBadCredentials = errors.New("invalid email or password")
)

const refreshExpiry = 30 * 24 * time.Hour

// Service signs and validates tokens. Tokens are stateless; rotating the
// secret invalidates everything outstanding.
type Service struct {
	secret       []byte
	accessExpiry time.Duration
}

// NewService creates a token service with the given signing secret.
func NewService(secret string, accessExpiry time.Duration) *Service {
	return &Service{secret: []byte(secret), accessExpiry: accessExpiry}
}

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against the stored hash.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrBadCredentials
	}
	return nil
}

// GenerateTokenPair issues an access and a refresh token for a user.
func (s *Service) GenerateTokenPair(userID string) (string, string, error) {
	now := time.Now()

	accessToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"type":    "access",
		"exp":     now.Add(s.accessExpiry).Unix(),
		"iat":     now.Unix(),
	})
	access, err := accessToken.SignedString(s.secret)
	if err != nil {
		return "", "", err
	}

	refreshToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"type":    "refresh",
		"exp":     now.Add(refreshExpiry).Unix(),
		"iat":     now.Unix(),
	})
	refresh, err := refreshToken.SignedString(s.secret)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// ValidateToken checks an access token and returns the user id it carries.
// Refresh tokens are rejected here so they cannot authenticate requests.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	return s.validate(tokenString, "access")
}

// ValidateRefreshToken checks a refresh token and returns the user id.
func (s *Service) ValidateRefreshToken(tokenString string) (string, error) {
	return s.validate(tokenString, "refresh")
}

func (s *Service) validate(tokenString, wantType string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	if tokenType, _ := claims["type"].(string); tokenType != wantType {
		return "", ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}
