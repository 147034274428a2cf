package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/angelmondragon/fulfillment-engine/pkg/storage"
)

const contentTypeSuffix = ".content-type"

// Store keeps artifacts on the local filesystem under a root directory.
type Store struct {
	root string
}

// New creates the root directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("local storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %q: %w", root, err)
	}
	return &Store{root: root}, nil
}

func (s *Store) path(key string) (string, error) {
	cleaned, err := storage.CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	full, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("mkdir for %q: %w", key, err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return fmt.Errorf("commit %q: %w", key, err)
	}
	ct := storage.DetectContentType(data, contentType)
	if err := os.WriteFile(full+contentTypeSuffix, []byte(ct), 0o644); err != nil {
		return fmt.Errorf("write content type for %q: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	full, err := s.path(key)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", storage.ErrNotFound
		}
		return nil, "", fmt.Errorf("read %q: %w", key, err)
	}
	ct, err := os.ReadFile(full + contentTypeSuffix)
	if err != nil {
		return data, storage.DetectContentType(data, ""), nil
	}
	return data, string(ct), nil
}

func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	data, ct, err := s.Get(ctx, srcKey)
	if err != nil {
		return err
	}
	return s.Put(ctx, dstKey, data, ct)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	full, err := s.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
