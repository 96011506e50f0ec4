// Package authstore persists the opaque signature tokens issued at login,
// keyed by serial number. Remote and local access modes keep separate files
// because their tokens are not interchangeable.
package authstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is the persistence surface the session core depends on.
type Store interface {
	Has(serialNum string) bool
	Get(serialNum string) (string, error)
	Set(serialNum, token string) error
	Delete(serialNum string) error
}

// FileStore keeps tokens in a JSON file with 0600 permissions.
//
// Writes are read-modify-write, serialized per process with a mutex.
// Concurrent processes sharing one file risk lost updates; callers running
// multiple clients against the same store must serialize their own writes.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by the file at path. The file is
// created lazily on the first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Has reports whether a token is stored for serialNum.
func (s *FileStore) Has(serialNum string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.read()
	if err != nil {
		return false
	}
	_, ok := tokens[serialNum]
	return ok
}

// Get returns the stored token for serialNum.
func (s *FileStore) Get(serialNum string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.read()
	if err != nil {
		return "", fmt.Errorf("authstore: read %s: %w", s.path, err)
	}
	token, ok := tokens[serialNum]
	if !ok {
		return "", fmt.Errorf("authstore: no token for %s", serialNum)
	}
	return token, nil
}

// Set stores token for serialNum, replacing any previous entry.
func (s *FileStore) Set(serialNum, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.read()
	if err != nil {
		tokens = map[string]string{}
	}
	tokens[serialNum] = token
	return s.write(tokens)
}

// Delete removes the entry for serialNum. Removing a missing entry is not
// an error.
func (s *FileStore) Delete(serialNum string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.read()
	if err != nil {
		return nil
	}
	delete(tokens, serialNum)
	return s.write(tokens)
}

func (s *FileStore) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	tokens := map[string]string{}
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (s *FileStore) write(tokens map[string]string) error {
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("authstore: marshal: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("authstore: mkdir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("authstore: write %s: %w", s.path, err)
	}
	return nil
}

// Ensure FileStore implements Store.
var _ Store = (*FileStore)(nil)
