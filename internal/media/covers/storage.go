// Package covers provides post cover image processing and storage.
package covers

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Storage manages cover image filesystem operations.
// Thread-safe for concurrent operations.
type Storage struct {
	basePath string
	mu       sync.RWMutex // Protects file operations
}

// NewStorage creates a new Storage instance rooted at basePath.
// The directory is created if it doesn't exist.
func NewStorage(basePath string) (*Storage, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create covers directory: %w", err)
	}

	return &Storage{
		basePath: basePath,
	}, nil
}

// Save stores cover data for a post.
// Filename format: {postID}.jpg.
func (s *Storage) Save(postID string, imgData []byte) error {
	if postID == "" {
		return fmt.Errorf("post ID cannot be empty")
	}
	if len(imgData) == 0 {
		return fmt.Errorf("image data cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.Path(postID), imgData, 0644); err != nil {
		return fmt.Errorf("failed to write cover file: %w", err)
	}

	return nil
}

// Get retrieves cover data for a post.
func (s *Storage) Get(postID string) ([]byte, error) {
	if postID == "" {
		return nil, fmt.Errorf("post ID cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.Path(postID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("cover not found for %s: %w", postID, err)
		}
		return nil, fmt.Errorf("failed to read cover file: %w", err)
	}

	return data, nil
}

// Exists checks if a cover exists for a post.
func (s *Storage) Exists(postID string) bool {
	if postID == "" {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.Path(postID))
	return err == nil
}

// Delete removes a post's cover. Idempotent.
func (s *Storage) Delete(postID string) error {
	if postID == "" {
		return fmt.Errorf("post ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path(postID)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete cover file: %w", err)
	}

	return nil
}

// Hash computes the SHA256 of a cover, hex-encoded, for ETag validation.
func (s *Storage) Hash(postID string) (string, error) {
	data, err := s.Get(postID)
	if err != nil {
		return "", err
	}

	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash), nil
}

// Path returns the full filesystem path for a post's cover.
func (s *Storage) Path(postID string) string {
	return filepath.Join(s.basePath, fmt.Sprintf("%s.jpg", postID))
}
