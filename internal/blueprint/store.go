// Package blueprint stores versioned text blueprints on the local
// filesystem. Each version is addressed by (name, tag) and kept as a single
// file named <name>_v<tag>.kl under the store root. Tags are free-form
// strings; no ordering between them is implied.
//
// Re-saving an existing (name, tag) overwrites it. Callers that need
// immutable history must choose fresh tags.
package blueprint

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/papapumpkin/helix/internal/logging"
)

const (
	fileExt   = ".kl"
	tagMarker = "_v"
	filePerm  = 0o644
	dirPerm   = 0o755
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger. A nil logger discards output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store is a single-process, file-backed blueprint version store.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore opens a store rooted at root, creating the directory if needed.
func NewStore(root string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("creating blueprint root: %w", err)
	}
	s := &Store{root: root, logger: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the directory holding the blueprint files.
func (s *Store) Root() string { return s.root }

// Path returns the file path for (name, tag) without touching the disk.
func (s *Store) Path(name, tag string) (string, error) {
	if err := validate(name); err != nil {
		return "", err
	}
	if err := validate(tag); err != nil {
		return "", err
	}
	return filepath.Join(s.root, fileName(name, tag)), nil
}

// Save writes content as version tag of blueprint name and returns the file
// path. An existing version with the same tag is silently replaced.
func (s *Store) Save(name, content, tag string) (string, error) {
	path, err := s.Path(name, tag)
	if err != nil {
		return "", err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), filePerm); err != nil {
		return "", fmt.Errorf("writing temp blueprint file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("renaming blueprint file: %w", err)
	}

	s.logger.Info("blueprint saved", "name", name, "tag", tag, "path", path)
	return path, nil
}

// Load returns the content of version tag of blueprint name. A missing
// version is reported with found=false and a nil error.
func (s *Store) Load(name, tag string) (content string, found bool, err error) {
	path, err := s.Path(name, tag)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("blueprint not found", "name", name, "tag", tag)
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading blueprint %s:%s: %w", name, tag, err)
	}
	return string(data), true, nil
}

// Versions lists the tags stored for blueprint name, sorted lexically.
func (s *Store) Versions(name string) ([]string, error) {
	if err := validate(name); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing blueprint root: %w", err)
	}

	prefix := name + tagMarker
	var tags []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		base := e.Name()
		if !strings.HasPrefix(base, prefix) || !strings.HasSuffix(base, fileExt) {
			continue
		}
		tag := strings.TrimSuffix(strings.TrimPrefix(base, prefix), fileExt)
		if tag == "" {
			continue
		}
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags, nil
}

// Restore copies version fromTag of blueprint name to toTag, rolling the
// blueprint back to an earlier recipe under a new version. It returns the
// path of the new version, or ErrNotFound if fromTag does not exist.
func (s *Store) Restore(name, fromTag, toTag string) (string, error) {
	content, found, err := s.Load(name, fromTag)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("restoring %s:%s: %w", name, fromTag, ErrNotFound)
	}
	return s.Save(name, content, toTag)
}

func fileName(name, tag string) string {
	return name + tagMarker + tag + fileExt
}

// parseFileName splits a blueprint file's base name into name and tag.
func parseFileName(base string) (name, tag string, ok bool) {
	if !strings.HasSuffix(base, fileExt) {
		return "", "", false
	}
	stem := strings.TrimSuffix(base, fileExt)
	i := strings.LastIndex(stem, tagMarker)
	if i <= 0 || i+len(tagMarker) == len(stem) {
		return "", "", false
	}
	return stem[:i], stem[i+len(tagMarker):], true
}

func validate(part string) error {
	if part == "" || part == "." || part == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, part)
	}
	if strings.ContainsAny(part, `/\`+"\x00") {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, part)
	}
	return nil
}
