package apiauth

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pitchtracker/internal/config"
)

var (
	ErrInvalidCredentials = errors.New("apiauth: invalid credentials")
	ErrAuthDisabled       = errors.New("apiauth: authentication is disabled")
)

// Authenticator validates a single configured username/password against
// bearer-token issuance. The control surface only ever needs one operator
// account, unlike the teacher's multi-camera UI.
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	jwtManager   *JWTManager
}

// New builds an Authenticator from cfg. password is the plaintext or
// already-bcrypt-hashed operator password; an empty password with
// cfg.AuthEnabled leaves every Authenticate call failing closed.
func New(cfg config.APIConfig, username, password string, jwtExpiry int) *Authenticator {
	if username == "" {
		username = "admin"
	}

	var hash []byte
	if cfg.AuthEnabled && password != "" {
		if len(password) == 60 && password[0] == '$' {
			hash = []byte(password)
		} else if h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost); err == nil {
			hash = h
		}
	}

	return &Authenticator{
		enabled:      cfg.AuthEnabled,
		username:     username,
		passwordHash: hash,
		jwtManager:   NewJWTManager(cfg.JWTSecret, time.Duration(jwtExpiry)*time.Minute),
	}
}

// IsEnabled reports whether authentication is required on this deployment.
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate validates credentials and issues a bearer token.
func (a *Authenticator) Authenticate(username, password string) (token string, expiresAtUnix int64, err error) {
	if !a.enabled {
		return "", 0, ErrAuthDisabled
	}
	if username != a.username {
		return "", 0, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", 0, ErrInvalidCredentials
	}

	token, expiresAt, err := a.jwtManager.GenerateToken(username)
	if err != nil {
		return "", 0, err
	}
	return token, expiresAt.Unix(), nil
}

// ValidateToken validates a bearer token and returns its claims.
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.jwtManager.ValidateToken(token)
}

// HashPassword bcrypt-hashes a plaintext password for storage in
// configuration.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
