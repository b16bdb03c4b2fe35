package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Identity is the authenticated caller extracted from a token.
type Identity struct {
	Email string
	Admin bool
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Manager issues and validates signed session tokens. Tokens are
// self-contained: email, role and expiry live in the payload, so no
// server-side session state is kept.
type Manager struct {
	secret []byte
}

// NewManager creates a Manager with the provided secret.
func NewManager(secret string) *Manager {
	if secret == "" {
		panic("auth manager requires non-empty secret")
	}
	return &Manager{secret: []byte(secret)}
}

// IssueToken issues a signed token for the email. Admin tokens unlock the
// admin API surface.
func (m *Manager) IssueToken(email string, admin bool, ttl time.Duration) (string, error) {
	if email == "" {
		return "", errors.New("email required")
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	role := "user"
	if admin {
		role = "admin"
	}
	expires := time.Now().Add(ttl).Unix()
	payload := fmt.Sprintf("%s|%s|%d", email, role, expires)
	sig := m.sign([]byte(payload))
	return fmt.Sprintf("%s.%s",
		base64.RawURLEncoding.EncodeToString([]byte(payload)),
		base64.RawURLEncoding.EncodeToString(sig)), nil
}

// ValidateToken checks the signature and expiry and returns the embedded
// identity.
func (m *Manager) ValidateToken(token string) (Identity, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Identity{}, ErrInvalidToken
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	if !hmac.Equal(sigBytes, m.sign(payloadBytes)) {
		return Identity{}, ErrInvalidToken
	}
	fields := strings.Split(string(payloadBytes), "|")
	if len(fields) != 3 {
		return Identity{}, ErrInvalidToken
	}
	expiry, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	if time.Now().Unix() > expiry {
		return Identity{}, ErrTokenExpired
	}
	return Identity{Email: fields[0], Admin: fields[1] == "admin"}, nil
}

func (m *Manager) sign(payload []byte) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write(payload)
	return h.Sum(nil)
}
