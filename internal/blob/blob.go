// Package blob is a disk-backed object store with time-limited signed
// download URLs. Paths are opaque storage keys ("userID/uuid.png"); the
// content type travels in a sidecar file next to the object.
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrExists      = errors.New("object already exists")
	ErrNotFound    = errors.New("object not found")
	ErrInvalidPath = errors.New("invalid object path")
)

type Store struct {
	root   string
	secret []byte
}

func New(root string, secret []byte) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, secret: secret}, nil
}

// cleanPath validates a storage key and maps it onto the disk layout. Keys are
// forward-slash relative paths that must not escape the root.
func (s *Store) cleanPath(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// Put streams an object to disk. Without upsert an existing key is an error.
func (s *Store) Put(key string, r io.Reader, contentType string, upsert bool) error {
	full, err := s.cleanPath(key)
	if err != nil {
		return err
	}
	if !upsert {
		if _, err := os.Stat(full); err == nil {
			return ErrExists
		}
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}

	f, err := os.Create(full)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(full)
		return fmt.Errorf("write object %q: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.WriteFile(full+".ctype", []byte(contentType), 0o644)
}

// Open returns the object stream and its recorded content type.
func (s *Store) Open(key string) (io.ReadCloser, string, error) {
	full, err := s.cleanPath(key)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(full)
	if os.IsNotExist(err) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}

	contentType := "application/octet-stream"
	if b, err := os.ReadFile(full + ".ctype"); err == nil && len(b) > 0 {
		contentType = string(b)
	}
	return f, contentType, nil
}

func (s *Store) Delete(key string) error {
	full, err := s.cleanPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); os.IsNotExist(err) {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	os.Remove(full + ".ctype")
	return nil
}
