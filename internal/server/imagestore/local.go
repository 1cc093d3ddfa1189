package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/freshkeeper/internal/filex"
)

// LocalStore writes images below a directory. URLs are relative to the
// server, which serves the directory under urlPrefix.
type LocalStore struct {
	dir       string
	urlPrefix string
	now       func() time.Time
}

func NewLocalStore(dir, urlPrefix string) (*LocalStore, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	return &LocalStore{dir: abs, urlPrefix: strings.TrimRight(urlPrefix, "/"), now: time.Now}, nil
}

func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) Save(_ context.Context, userID int64, data []byte) (string, error) {
	key := NewKey(userID, s.now())
	if _, err := filex.WriteFile(s.dir, key, data); err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}
	return key, nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}

func (s *LocalStore) URL(_ context.Context, key string) (string, error) {
	if _, err := s.path(key); err != nil {
		return "", err
	}
	return s.urlPrefix + "/" + key, nil
}

// path rejects keys that would escape the store directory.
func (s *LocalStore) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean != "/"+key {
		return "", fmt.Errorf("invalid image key %q", key)
	}
	return filepath.Join(s.dir, filepath.FromSlash(key)), nil
}
