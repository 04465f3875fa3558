// Package worm provides write-once-read-many, content-addressed storage for
// large evidence payloads. Ledger entries stay small and fast to replay by
// referencing payloads here via a "sha256:<hex>" address instead of inlining
// them.
package worm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store is the contract for content-addressed WORM payload storage. There is
// deliberately no delete: payloads are written once and kept.
type Store interface {
	// Put persists data and returns its content address ("sha256:<hex>").
	// Re-putting identical bytes is a no-op returning the same address.
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by its content address.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Exists reports whether a payload is present.
	Exists(ctx context.Context, ref string) (bool, error)
}

const refPrefix = "sha256:"

// Address computes the content address for a payload.
func Address(data []byte) string {
	sum := sha256.Sum256(data)
	return refPrefix + hex.EncodeToString(sum[:])
}

// parseRef extracts the raw hex digest from a "sha256:<hex>" address.
func parseRef(ref string) (string, error) {
	if !strings.HasPrefix(ref, refPrefix) {
		return "", fmt.Errorf("worm: invalid payload ref %q", ref)
	}
	digest := ref[len(refPrefix):]
	if len(digest) != 64 {
		return "", fmt.Errorf("worm: invalid digest length in ref %q", ref)
	}
	return digest, nil
}

// FileStore is a filesystem-backed WORM store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a WORM store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("worm: ensure payload dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := Address(data)
	digest := ref[len(refPrefix):]
	path := filepath.Join(s.baseDir, digest+".blob")

	// Existing blob wins: content addressing makes overwrite pointless and
	// the write-once guarantee forbids it.
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("worm: write payload: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("worm: commit payload: %w", err)
	}
	return ref, nil
}

func (s *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.baseDir, digest+".blob"))
	if err != nil {
		return nil, fmt.Errorf("worm: read payload %s: %w", ref, err)
	}
	// Verify on read: content addressing means the digest must match.
	if Address(data) != ref {
		return nil, fmt.Errorf("worm: payload %s failed content verification", ref)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, ref string) (bool, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := os.Stat(filepath.Join(s.baseDir, digest+".blob")); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
