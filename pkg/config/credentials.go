package config

import (
	"regexp"
	"strings"
	"sync"

	"github.com/tornflow/tornflow/pkg/errors"
)

// keyPattern is the fixed credential format: 16 alphanumeric characters
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9]{16}$`)

// DefaultCredential is the credential name used when an endpoint does
// not select one explicitly. A credential file must contain it.
const DefaultCredential = "default"

// CredentialStore holds named API tokens. Tokens are never logged
// verbatim; use Mask before surfacing any string that may embed one.
type CredentialStore struct {
	mu   sync.RWMutex
	keys map[string]string
}

// NewCredentialStore builds a store from a name→token map, validating
// every token against the fixed format and requiring a "default" entry.
func NewCredentialStore(keys map[string]string) (*CredentialStore, error) {
	if _, ok := keys[DefaultCredential]; !ok {
		return nil, errors.New(errors.ErrorTypeConfig,
			`credential file must contain a "default" entry`)
	}
	for name, key := range keys {
		if !keyPattern.MatchString(key) {
			return nil, errors.Newf(errors.ErrorTypeCredential,
				"credential %q does not match the required key format", name)
		}
	}

	store := make(map[string]string, len(keys))
	for name, key := range keys {
		store[name] = key
	}
	return &CredentialStore{keys: store}, nil
}

// Get returns the named token; an empty name selects "default"
func (c *CredentialStore) Get(name string) (string, error) {
	if name == "" {
		name = DefaultCredential
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	key, ok := c.keys[name]
	if !ok {
		return "", errors.Newf(errors.ErrorTypeCredential, "unknown credential %q", name)
	}
	return key, nil
}

// Names returns the configured credential names
func (c *CredentialStore) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.keys))
	for name := range c.keys {
		names = append(names, name)
	}
	return names
}

// Mask replaces every stored token occurring in s with a fixed
// placeholder. Applied to URLs and error text before logging or
// surfacing them.
func (c *CredentialStore) Mask(s string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, key := range c.keys {
		s = strings.ReplaceAll(s, key, "***")
	}
	return s
}
