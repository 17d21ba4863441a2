package oidc

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicate          = errors.New("already registered")
)

// User is a local account.
type User struct {
	Username     string
	Subject      string
	Email        string
	Roles        []string
	Extra        map[string]interface{}
	passwordHash []byte
}

// UserStore keeps accounts with bcrypt hashed passwords.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]*User
	cost  int
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]*User), cost: bcrypt.DefaultCost}
}

// WithCost sets the bcrypt cost, mainly to speed up tests.
func (s *UserStore) WithCost(cost int) *UserStore {
	s.cost = cost
	return s
}

// Add registers u with password. The subject defaults to the username.
func (s *UserStore) Add(u User, password string) error {
	if u.Username == "" {
		return errors.New("username is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if u.Subject == "" {
		u.Subject = u.Username
	}
	u.passwordHash = hash

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return fmt.Errorf("user %s: %w", u.Username, ErrDuplicate)
	}
	s.users[u.Username] = &u
	return nil
}

// Authenticate returns the user whose password matches.
func (s *UserStore) Authenticate(username, password string) (*User, error) {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Lookup finds a user by subject.
func (s *UserStore) Lookup(subject string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Subject == subject {
			return u, true
		}
	}
	return nil, false
}

// Client is a confidential client for the client_credentials grant.
type Client struct {
	ID         string
	Roles      []string
	secretHash []byte
}

// ClientStore keeps clients with bcrypt hashed secrets.
type ClientStore struct {
	mu      sync.RWMutex
	clients map[string]*Client
	cost    int
}

func NewClientStore() *ClientStore {
	return &ClientStore{clients: make(map[string]*Client), cost: bcrypt.DefaultCost}
}

func (s *ClientStore) WithCost(cost int) *ClientStore {
	s.cost = cost
	return s
}

// Add registers a client.
func (s *ClientStore) Add(id, secret string, roles ...string) error {
	if id == "" {
		return errors.New("client id is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash secret: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[id]; ok {
		return fmt.Errorf("client %s: %w", id, ErrDuplicate)
	}
	s.clients[id] = &Client{ID: id, Roles: roles, secretHash: hash}
	return nil
}

// Authenticate returns the client whose secret matches.
func (s *ClientStore) Authenticate(id, secret string) (*Client, error) {
	s.mu.RLock()
	c, ok := s.clients[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(c.secretHash, []byte(secret)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return c, nil
}
