// Package identity holds user records and credential verification.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptyUsername     = errors.New("username must not be empty")
	ErrUsernameTaken     = errors.New("username already taken")
	ErrWeakCredential    = errors.New("password too short")
	ErrInvalidCredential = errors.New("invalid username or password")
)

const hashCost = 10

// dummyHash is compared against when the username does not exist, so that
// authentication costs the same for unknown users and wrong passwords.
var dummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("nekochat-dummy"), hashCost)
	if err != nil {
		panic(fmt.Sprintf("identity: dummy hash: %v", err))
	}
	return h
}()

// User is a registered account. Reward balance lives in the reward ledger,
// keyed by User.ID.
type User struct {
	ID             string
	Username       string
	CredentialHash []byte
	CreatedAt      time.Time
}

// Store is an in-memory user table. Users are never deleted while the
// process lives.
type Store struct {
	minPasswordLen int

	mu     sync.RWMutex
	byID   map[string]*User
	byName map[string]*User
}

func NewStore(minPasswordLen int) *Store {
	return &Store{
		minPasswordLen: minPasswordLen,
		byID:           make(map[string]*User),
		byName:         make(map[string]*User),
	}
}

// Register creates a new user. Usernames are unique and case-sensitive.
func (s *Store) Register(username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}
	if len(password) < s.minPasswordLen {
		return nil, ErrWeakCredential
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[username]; exists {
		return nil, ErrUsernameTaken
	}

	user := &User{
		ID:             uuid.NewString(),
		Username:       username,
		CredentialHash: hash,
		CreatedAt:      time.Now(),
	}
	s.byID[user.ID] = user
	s.byName[user.Username] = user
	return user, nil
}

// Authenticate verifies a username/password pair. It returns the same
// ErrInvalidCredential whether the username is unknown or the password is
// wrong.
func (s *Store) Authenticate(username, password string) (*User, error) {
	s.mu.RLock()
	user, found := s.byName[strings.TrimSpace(username)]
	s.mu.RUnlock()

	hash := dummyHash
	if found {
		hash = user.CredentialHash
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil || !found {
		return nil, ErrInvalidCredential
	}
	return user, nil
}

// FindByID returns a user by id.
func (s *Store) FindByID(id string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[id]
	return user, ok
}

// Count returns the number of registered users.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
