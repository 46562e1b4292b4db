// Package blob stores crawled snapshot bodies by content hash.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when a reference has no stored content.
var ErrNotFound = eris.New("blob: not found")

// Store saves and loads snapshot content.
type Store interface {
	Put(ctx context.Context, data []byte, ext string) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Hash returns the hex sha256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LocalStore keeps content under a directory, sharded by hash prefix.
// Identical content is written once.
type LocalStore struct {
	dir string
}

// NewLocal creates the directory if needed.
func NewLocal(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, eris.New("blob: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "blob: create %s", dir)
	}
	return &LocalStore{dir: dir}, nil
}

// Put writes data and returns its reference, "<hash>.<ext>".
func (s *LocalStore) Put(ctx context.Context, data []byte, ext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "blob: put")
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	ref := Hash(data) + "." + ext
	path := s.path(ref)
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", eris.Wrapf(err, "blob: mkdir for %s", ref)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return "", eris.Wrapf(err, "blob: temp file for %s", ref)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec
		return "", eris.Wrapf(err, "blob: write %s", ref)
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrapf(err, "blob: close %s", ref)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", eris.Wrapf(err, "blob: rename %s", ref)
	}
	return ref, nil
}

// Get reads the content behind ref.
func (s *LocalStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "blob: get")
	}
	if ref == "" || strings.ContainsAny(ref, `/\`) || len(ref) < 3 {
		return nil, eris.Wrapf(ErrNotFound, "blob: bad ref %q", ref)
	}
	data, err := os.ReadFile(s.path(ref))
	if os.IsNotExist(err) {
		return nil, eris.Wrapf(ErrNotFound, "blob: %s", ref)
	}
	return data, eris.Wrapf(err, "blob: read %s", ref)
}

func (s *LocalStore) path(ref string) string {
	return filepath.Join(s.dir, ref[:2], ref)
}
