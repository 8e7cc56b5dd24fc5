// Package notes implements rag.DocumentStore over a directory of note files.
// Paths are slash-separated and relative to the root directory.
package notes

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when a path does not name an indexable note. It
// matches fs.ErrNotExist so callers need not import this package.
var ErrNotFound = fmt.Errorf("notes: not found: %w", fs.ErrNotExist)

// DefaultExtensions are the file extensions indexed when none are configured.
var DefaultExtensions = []string{".md", ".txt"}

// Store reads notes from a root directory. Hidden files and directories are
// skipped. It is safe for concurrent use.
type Store struct {
	// root is the absolute, cleaned notes directory.
	root string
	// exts is the set of lowercased extensions to index.
	exts map[string]struct{}
}

// New returns a Store rooted at dir. The directory must exist.
func New(dir string, extensions []string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("notes: resolve %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("notes: stat %q: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("notes: %q is not a directory", abs)
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}
	return &Store{root: filepath.Clean(abs), exts: exts}, nil
}

// Root returns the absolute notes directory.
func (s *Store) Root() string {
	return s.root
}

// List returns every indexable note path in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := d.Name()
		if d.IsDir() {
			if path != s.root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !s.indexable(name) {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr == nil {
			paths = append(paths, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("notes: walk %s: %w", s.root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Read returns the content of the note at path.
func (s *Store) Read(_ context.Context, path string) (string, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("notes: read %s: %w", path, err)
	}
	return string(b), nil
}

// ModifiedTime returns the modification time of the note at path.
func (s *Store) ModifiedTime(_ context.Context, path string) (time.Time, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return time.Time{}, fmt.Errorf("notes: stat %s: %w", path, err)
	}
	return info.ModTime(), nil
}

// Exists reports whether path names an existing indexable note.
func (s *Store) Exists(path string) bool {
	abs, err := s.resolve(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

func (s *Store) indexable(name string) bool {
	_, ok := s.exts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// resolve maps a note path to an absolute file path confined to the root.
// This prevents traversal such as "../../etc/passwd".
func (s *Store) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("notes: path is required")
	}
	target := filepath.Clean(filepath.Join(s.root, filepath.FromSlash(path)))
	if !strings.HasPrefix(target+string(filepath.Separator), s.root+string(filepath.Separator)) || target == s.root {
		return "", fmt.Errorf("notes: path %q is outside the notes directory", path)
	}
	if !s.indexable(target) {
		return "", fmt.Errorf("%w: %s has an unindexed extension", ErrNotFound, path)
	}
	return target, nil
}
