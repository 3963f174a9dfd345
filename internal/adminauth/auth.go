// Package adminauth implements the optional bearer/JWT admin guard for the
// mutating HTTP surface (trigger cleanup, and in principle any future
// write endpoint). Adapted from the teacher's auth/service.go and
// auth/token.go, trimmed to a single admin identity since this cache has
// no per-account login.
package adminauth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by Login on a bad password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Claims is the JWT payload issued to the admin on successful login.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and validates admin JWTs. It holds the bcrypt hash of the
// admin password and the HMAC secret used to sign tokens.
type Service struct {
	adminHash []byte
	jwtSecret []byte
	expiry    time.Duration
}

// NewService builds a Service from a bcrypt password hash, a JWT HMAC
// secret, and token lifetime. internal/config.Validate does not require
// either value; it only logs a warning for a missing password hash when
// ENVIRONMENT is production. An empty hash or secret here means admin
// auth is disabled entirely, which the HTTP layer checks via Enabled.
func NewService(adminPasswordHash, jwtSecret string, expiry time.Duration) *Service {
	return &Service{
		adminHash: []byte(adminPasswordHash),
		jwtSecret: []byte(jwtSecret),
		expiry:    expiry,
	}
}

// Enabled reports whether admin auth is configured at all.
func (s *Service) Enabled() bool {
	return len(s.adminHash) > 0 && len(s.jwtSecret) > 0
}

// Login checks the admin password and, on success, returns a signed JWT.
func (s *Service) Login(password string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(s.adminHash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issue()
}

func (s *Service) issue() (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "concentratee-cache",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken parses and verifies a bearer token, rejecting any signing
// method other than HMAC.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}

// HashPassword is a small convenience wrapper around bcrypt that produces
// a value usable as ADMIN_PASSWORD_HASH. Configuration loading does not
// call it; it reads ADMIN_PASSWORD_HASH as given.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
