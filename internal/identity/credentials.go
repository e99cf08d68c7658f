package identity

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown principal or a wrong secret.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Credentials maps principals to bcrypt hashes of their secrets.
type Credentials struct {
	mu     sync.RWMutex
	hashes map[string][]byte
}

// NewCredentials builds a Credentials set from principal → bcrypt hash pairs,
// as loaded from configuration.
func NewCredentials(hashes map[string]string) *Credentials {
	c := &Credentials{hashes: make(map[string][]byte, len(hashes))}
	for p, h := range hashes {
		c.hashes[p] = []byte(h)
	}
	return c
}

// HashSecret returns the bcrypt hash of secret at the default cost.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret is required")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(h), nil
}

// Add registers (or replaces) the secret for principal.
func (c *Credentials) Add(principal, secret string) error {
	h, err := HashSecret(secret)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.hashes[principal] = []byte(h)
	c.mu.Unlock()
	return nil
}

// Authenticate checks secret against the stored hash for principal.
func (c *Credentials) Authenticate(principal, secret string) error {
	c.mu.RLock()
	h, ok := c.hashes[principal]
	c.mu.RUnlock()
	if !ok {
		// Compare anyway so unknown principals cost the same as wrong secrets.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(h, []byte(secret)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Len returns the number of known principals.
func (c *Credentials) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hashes)
}

var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z6RG8dYbS1wXMm6YU1LdDjOe")
