package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail verification for any reason
var ErrInvalidToken = errors.New("invalid token")

const issuer = "liveregion"

// Config defines Service configuration
type Config struct {
	Secret []byte        // HS256 key; a random key is generated when empty
	TTL    time.Duration // Default: 24 hours
}

// DefaultConfig returns secure default configuration
func DefaultConfig() *Config {
	return &Config{TTL: 24 * time.Hour}
}

// SessionClaims binds a bearer to one session
type SessionClaims struct {
	SessionID string `json:"sid"`
	UserID    string `json:"uid,omitempty"`
	jwt.RegisteredClaims
}

// Service issues and verifies session tokens
type Service struct {
	signingKey []byte
	algorithm  jwt.SigningMethod
	ttl        time.Duration
	mu         sync.RWMutex
}

// NewService creates a new Service
func NewService(config *Config) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	ttl := config.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	key := config.Secret
	if len(key) == 0 {
		key = make([]byte, 32) // 256-bit key for HS256
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
	}

	return &Service{
		signingKey: key,
		algorithm:  jwt.SigningMethodHS256, // fixed to prevent algorithm confusion
		ttl:        ttl,
	}, nil
}

// Issue creates a signed token for the session
func (s *Service) Issue(sessionID, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	claims := &SessionClaims{
		SessionID: sessionID,
		UserID:    userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   sessionID,
		},
	}

	signed, err := jwt.NewWithClaims(s.algorithm, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify validates a token and returns its claims
func (s *Service) Verify(tokenString string) (*SessionClaims, error) {
	s.mu.RLock()
	key := s.signingKey
	s.mu.RUnlock()

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != s.algorithm {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session", ErrInvalidToken)
	}
	return claims, nil
}

// RotateSigningKey replaces the signing key; tokens issued before stop verifying
func (s *Service) RotateSigningKey() error {
	newKey := make([]byte, 32)
	if _, err := rand.Read(newKey); err != nil {
		return fmt.Errorf("failed to generate new signing key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.signingKey = newKey
	return nil
}

// TTL returns the lifetime of issued tokens
func (s *Service) TTL() time.Duration {
	return s.ttl
}
