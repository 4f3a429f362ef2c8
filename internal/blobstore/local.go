package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore stores blobs on local disk, content-addressed under a root
// directory.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (l *LocalStore) Put(ctx context.Context, hash string, data []byte, ext string) (string, error) {
	rel := pathFor(hash, ext)
	full := filepath.Join(l.root, rel)
	if _, err := os.Stat(full); err == nil {
		return rel, nil // content-addressed write is idempotent
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("blobstore: mkdir: %w", err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("blobstore: write: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return "", fmt.Errorf("blobstore: rename: %w", err)
	}
	return rel, nil
}

func (l *LocalStore) Get(ctx context.Context, ref string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(l.root, ref))
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %s: %w", ref, err)
	}
	return b, nil
}

func (l *LocalStore) Delete(ctx context.Context, ref string) error {
	err := os.Remove(filepath.Join(l.root, ref))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: delete %s: %w", ref, err)
	}
	return nil
}
