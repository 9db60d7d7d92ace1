package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// stateEntry is one cookie-equivalent value with its expiry.
type stateEntry struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expiresAt"` // epoch milliseconds
}

// stateStore persists the agent's user identifier and variant assignment
// between sessions, the way the browser tracker keeps them in cookies.
type stateStore struct {
	path string
	mu   sync.Mutex
}

func newStateStore(path string) *stateStore {
	return &stateStore{path: path}
}

// Get returns the stored value for key. Expired entries read as absent.
func (s *stateStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return "", false
	}

	entry, ok := entries[key]
	if !ok || entry.ExpiresAt <= time.Now().UnixMilli() {
		return "", false
	}
	return entry.Value, true
}

// Set stores a value for key with the given lifetime.
func (s *stateStore) Set(key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	entries[key] = stateEntry{
		Value:     value,
		ExpiresAt: time.Now().Add(ttl).UnixMilli(),
	}

	blob, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	if err := os.WriteFile(s.path, blob, 0600); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

func (s *stateStore) read() (map[string]stateEntry, error) {
	entries := make(map[string]stateEntry)

	blob, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	// A corrupt state file is treated as empty rather than fatal.
	if err := json.Unmarshal(blob, &entries); err != nil {
		return make(map[string]stateEntry), nil
	}
	return entries, nil
}
