package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const fileSuffix = ".json"

// File is a Store keeping one file per key under a directory. It stands in
// for the browser-local storage the durable tier was originally built on.
type File struct {
	dir string
}

// NewFile creates the directory if needed and returns the store.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("kvstore: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kvstore: create dir: %w", err)
	}
	return &File{dir: dir}, nil
}

func (s *File) Get(_ context.Context, key string) ([]byte, error) {
	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: read %q: %w", key, err)
	}
	return b, nil
}

func (s *File) Set(_ context.Context, key string, value []byte) error {
	if err := os.WriteFile(s.path(key), value, 0o644); err != nil {
		return fmt.Errorf("kvstore: write %q: %w", key, err)
	}
	return nil
}

func (s *File) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("kvstore: delete %q: %w", key, err)
	}
	return nil
}

func (s *File) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("kvstore: list: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		key, err := decodeKey(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue // foreign file, not ours
		}
		out = append(out, key)
	}
	return out, nil
}

func (s *File) Close() error { return nil }

func (s *File) path(key string) string {
	return filepath.Join(s.dir, encodeKey(key)+fileSuffix)
}

// encodeKey makes an arbitrary key safe as a file name. Letters, digits and
// a few punctuation marks pass through; everything else becomes %XX.
func encodeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func decodeKey(name string) (string, error) {
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(name) {
			return "", fmt.Errorf("kvstore: truncated escape in %q", name)
		}
		v, err := strconv.ParseUint(name[i+1:i+3], 16, 8)
		if err != nil {
			return "", fmt.Errorf("kvstore: bad escape in %q: %w", name, err)
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}
