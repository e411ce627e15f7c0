package hwsim

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errUnknownSession = errors.New("session unknown or revoked")

// sessions mints and verifies claim tokens. Tokens are HS256 JWTs signed
// with a per-process random secret, so no token survives a service
// restart, which matches hardware losing its claims on reboot.
type sessions struct {
	secret []byte
	ttl    time.Duration

	mu     sync.Mutex
	active map[string]string // token id -> owner
}

func newSessions(ttl time.Duration) (*sessions, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	return &sessions{
		secret: secret,
		ttl:    ttl,
		active: make(map[string]string),
	}, nil
}

func (s *sessions) issue(owner string) (string, error) {
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   owner,
		ID:        hex.EncodeToString(id[:]),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	s.mu.Lock()
	s.active[claims.ID] = owner
	s.mu.Unlock()
	return signed, nil
}

// verify returns the owner of a live token. Forged, expired, and revoked
// tokens all fail.
func (s *sessions) verify(token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	owner, ok := s.active[claims.ID]
	s.mu.Unlock()
	if !ok {
		return "", errUnknownSession
	}
	return owner, nil
}

func (s *sessions) revoke(token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[claims.ID]; !ok {
		return errUnknownSession
	}
	delete(s.active, claims.ID)
	return nil
}

func (s *sessions) parse(token string) (*jwt.RegisteredClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid session token")
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.ID == "" {
		return nil, errors.New("malformed session claims")
	}
	return claims, nil
}
