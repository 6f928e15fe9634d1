package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	appErrors "github.com/campushub/thesis-api/pkg/errors"
)

// DocumentStore persists uploaded documents on disk, keyed by the
// SHA-256 of their content. Storing the same bytes twice yields the
// same reference and a single file.
type DocumentStore struct {
	baseDir string
}

// NewDocumentStore ensures the base directory exists and returns a handle.
func NewDocumentStore(baseDir string) (*DocumentStore, error) {
	if baseDir == "" {
		baseDir = "./documents"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create documents directory: %w", err)
	}
	return &DocumentStore{baseDir: baseDir}, nil
}

// Store validates and writes the given bytes, returning their
// content-address reference.
func (s *DocumentStore) Store(data []byte, maxSize int64, allowedMIMEs []string) (string, error) {
	if len(data) == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "file is empty")
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds maximum size of %d bytes", maxSize))
	}
	if len(allowedMIMEs) > 0 {
		detected := http.DetectContentType(data)
		if !mimeAllowed(detected, allowedMIMEs) {
			return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file type %s is not allowed", detected))
		}
	}

	sum := sha256.Sum256(data)
	ref := hex.EncodeToString(sum[:])
	path := s.resolve(ref)

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare document directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write document file: %w", err)
	}
	return ref, nil
}

// Load reads the bytes for a previously stored reference.
func (s *DocumentStore) Load(ref string) ([]byte, error) {
	if !validRef(ref) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid document reference")
	}
	data, err := os.ReadFile(s.resolve(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, fmt.Errorf("read document file: %w", err)
	}
	return data, nil
}

// Delete removes a stored document if present. Missing files are not an
// error so deletes stay idempotent.
func (s *DocumentStore) Delete(ref string) error {
	if !validRef(ref) {
		return appErrors.Clone(appErrors.ErrValidation, "invalid document reference")
	}
	if err := os.Remove(s.resolve(ref)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete document file: %w", err)
	}
	return nil
}

// Path exposes the underlying absolute path (useful for debugging).
func (s *DocumentStore) Path(ref string) string {
	return s.resolve(ref)
}

// Sharding by the first two hex characters keeps directories small.
func (s *DocumentStore) resolve(ref string) string {
	return filepath.Join(s.baseDir, ref[:2], ref)
}

func validRef(ref string) bool {
	if len(ref) != sha256.Size*2 {
		return false
	}
	if _, err := hex.DecodeString(ref); err != nil {
		return false
	}
	return true
}

func mimeAllowed(detected string, allowed []string) bool {
	for _, mime := range allowed {
		if detected == mime {
			return true
		}
	}
	return false
}
