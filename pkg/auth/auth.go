// Package auth issues and validates the bearer tokens the dashboard
// API (pkg/web) requires, and hashes the local operator password store.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Service issues and validates JWT bearer tokens for a small set of
// local operator accounts. Local bcrypt auth only — no LDAP.
type Service struct {
	mu sync.RWMutex

	jwtSecret   []byte
	tokenExpiry time.Duration
	users       map[string]*User
}

// User is a local dashboard operator account.
type User struct {
	Username     string
	PasswordHash string
	Enabled      bool
}

// Claims are the JWT claims issued on successful login.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserDisabled       = errors.New("user account disabled")
	ErrInvalidToken       = errors.New("invalid token")
)

// NewService creates an empty auth service; callers add accounts with
// RegisterUser before Login can succeed.
func NewService(jwtSecret string, tokenExpiry time.Duration) *Service {
	return &Service{
		jwtSecret:   []byte(jwtSecret),
		tokenExpiry: tokenExpiry,
		users:       make(map[string]*User),
	}
}

// RegisterUser adds (or replaces) a local operator account, hashing
// password with bcrypt.
func (s *Service) RegisterUser(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &User{Username: username, PasswordHash: string(hash), Enabled: true}
	return nil
}

// Login verifies username/password and returns a signed bearer token.
func (s *Service) Login(username, password string) (string, error) {
	s.mu.RLock()
	user, ok := s.users[username]
	s.mu.RUnlock()

	if !ok {
		return "", ErrInvalidCredentials
	}
	if !user.Enabled {
		return "", ErrUserDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken parses and verifies a bearer token, returning the
// username it was issued for.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	return claims.Username, nil
}
