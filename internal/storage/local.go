package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidKey indicates an object name that is empty or escapes its root.
var ErrInvalidKey = errors.New("invalid object key")

// LocalStorage writes exported media below a directory.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates root if needed.
func NewLocalStorage(root string) (*LocalStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve export dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &LocalStorage{root: abs}, nil
}

// Save writes r to name below the root. The file appears atomically once complete.
func (s *LocalStorage) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	key, err := cleanKey(name)
	if err != nil {
		return "", fmt.Errorf("local storage: %w", err)
	}

	target := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("local storage: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".export-*")
	if err != nil {
		return "", fmt.Errorf("local storage: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("local storage write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("local storage close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("local storage rename %s: %w", key, err)
	}
	return target, nil
}

// Root returns the absolute export directory.
func (s *LocalStorage) Root() string {
	return s.root
}

func cleanKey(name string) (string, error) {
	key := path.Clean("/" + strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	key = strings.TrimPrefix(key, "/")
	if key == "" || key == "." {
		return "", ErrInvalidKey
	}
	return key, nil
}

func contentType(key string) string {
	if t := mime.TypeByExtension(path.Ext(key)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
