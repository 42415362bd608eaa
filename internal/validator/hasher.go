package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Hasher errors
var (
	// ErrFileMissing is returned when an anchored file no longer exists.
	// A missing file counts as drift.
	ErrFileMissing = errors.New("file missing")

	// ErrUnknownRepository is returned when no root is registered for a
	// repository; drift cannot be evaluated without one.
	ErrUnknownRepository = errors.New("unknown repository root")
)

// FileHasher is the consumed file-content accessor: repository + path in,
// content hash out, ErrFileMissing when the file is gone.
type FileHasher interface {
	Hash(repository, path string) (string, error)
}

// DirHasher hashes files under registered repository roots
type DirHasher struct {
	mu    sync.RWMutex
	roots map[string]string
}

// NewDirHasher creates an empty DirHasher
func NewDirHasher() *DirHasher {
	return &DirHasher{roots: make(map[string]string)}
}

// Register maps a repository name to its filesystem root
func (h *DirHasher) Register(repository, root string) {
	h.mu.Lock()
	h.roots[repository] = root
	h.mu.Unlock()
}

// Hash computes the SHA-256 content hash of a file within a repository
func (h *DirHasher) Hash(repository, path string) (string, error) {
	h.mu.RLock()
	root, ok := h.roots[repository]
	h.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRepository, repository)
	}

	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, path)
	}

	f, err := os.Open(full)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%s: %w", path, ErrFileMissing)
	}
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
