// Package session issues, verifies and revokes opaque session tokens.
//
// Tokens are HS256-signed JWTs, but a token is only valid while its
// server-side binding exists: revocation removes the binding, so a
// structurally valid signature alone is never enough.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nekochat/server/identity"
)

var ErrInvalidToken = errors.New("invalid or expired session token")

// UserSource resolves a user id to a user record.
type UserSource interface {
	FindByID(id string) (*identity.User, bool)
}

// Claims carries the standard claims plus the owning user id.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
}

type binding struct {
	userID    string
	createdAt time.Time
	expiresAt time.Time
}

// Manager is the session table. Multiple concurrent sessions per user are
// allowed; each token is an independent binding.
type Manager struct {
	users  UserSource
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	bindings map[string]binding
}

func NewManager(users UserSource, secret []byte, ttl time.Duration) *Manager {
	return &Manager{
		users:    users,
		secret:   secret,
		ttl:      ttl,
		now:      time.Now,
		bindings: make(map[string]binding),
	}
}

// Create signs a new token for userID and stores its binding.
func (m *Manager) Create(userID string) (string, error) {
	now := m.now()
	expiresAt := now.Add(m.ttl)

	// The random jti keeps two tokens minted for the same user in the same
	// second distinct, so their bindings stay independent.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: userID,
	})

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.bindings[signed] = binding{userID: userID, createdAt: now, expiresAt: expiresAt}
	m.mu.Unlock()

	return signed, nil
}

// Verify returns the user owning the token. Every failure mode (bad
// signature, unknown token, revoked token, elapsed expiry) yields the same
// ErrInvalidToken. A binding found past its expiry is evicted on the spot.
func (m *Manager) Verify(token string) (*identity.User, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil || !parsed.Valid {
		// An expired signature also means the binding is dead weight.
		m.mu.Lock()
		delete(m.bindings, token)
		m.mu.Unlock()
		return nil, ErrInvalidToken
	}

	m.mu.Lock()
	b, ok := m.bindings[token]
	if ok && m.now().After(b.expiresAt) {
		delete(m.bindings, token)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return nil, ErrInvalidToken
	}

	user, found := m.users.FindByID(b.userID)
	if !found {
		return nil, ErrInvalidToken
	}
	return user, nil
}

// Revoke removes the token's binding. Revoking an unknown or already
// revoked token is a no-op.
func (m *Manager) Revoke(token string) {
	m.mu.Lock()
	delete(m.bindings, token)
	m.mu.Unlock()
}

// Count returns the number of live bindings, including any not yet lazily
// evicted.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bindings)
}
