// Package media stores uploaded attachment files under one directory.
package media

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var (
	ErrTooLarge       = errors.New("media file too large")
	ErrTypeNotAllowed = errors.New("media type not allowed")
)

// File is a stored attachment read back for sending.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Store keeps files flat under its root. Stored names are the references kept on tasks.
type Store struct {
	fs       afero.Fs
	maxBytes int64
	allow    []string
}

type Option func(*Store)

// WithMaxBytes limits the size of a single saved file. 0 disables the limit.
func WithMaxBytes(n int64) Option { return func(s *Store) { s.maxBytes = n } }

// WithAllowedTypes restricts saves to MIME types with one of the given prefixes.
func WithAllowedTypes(prefixes ...string) Option {
	return func(s *Store) { s.allow = prefixes }
}

// NewDirStore roots the store at dir on the OS filesystem, creating it when missing.
func NewDirStore(dir string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "./uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir), opts...), nil
}

// New wraps an existing filesystem (afero.NewMemMapFs in tests).
func New(fsys afero.Fs, opts ...Option) *Store {
	s := &Store{fs: fsys}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Save writes r under a fresh unique name that keeps the original extension.
func (s *Store) Save(originalName string, r io.Reader) (string, error) {
	if s.maxBytes > 0 {
		r = io.LimitReader(r, s.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("%w: %s", ErrTooLarge, originalName)
	}
	mt := mimetype.Detect(data)
	if !s.allowed(mt.String()) {
		return "", fmt.Errorf("%w: %s", ErrTypeNotAllowed, mt.String())
	}

	ext := strings.ToLower(path.Ext(filepath.Base(originalName)))
	if ext == "" {
		ext = mt.Extension()
	}
	name := uuid.NewString() + ext
	if err := afero.WriteFile(s.fs, "/"+name, data, 0o644); err != nil {
		return "", err
	}
	return name, nil
}

// Read returns the file contents and detected MIME type.
func (s *Store) Read(name string) (File, error) {
	clean, err := cleanName(name)
	if err != nil {
		return File{}, err
	}
	data, err := afero.ReadFile(s.fs, "/"+clean)
	if err != nil {
		return File{}, err
	}
	return File{Name: clean, MimeType: mimetype.Detect(data).String(), Data: data}, nil
}

// Remove deletes a file. A missing file is not an error.
func (s *Store) Remove(name string) error {
	clean, err := cleanName(name)
	if err != nil {
		return err
	}
	if err := s.fs.Remove("/" + clean); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the names of all stored files, sorted.
func (s *Store) List() ([]string, error) {
	infos, err := afero.ReadDir(s.fs, "/")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(infos))
	for _, fi := range infos {
		if fi.IsDir() || strings.HasPrefix(fi.Name(), ".") {
			continue
		}
		out = append(out, fi.Name())
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) allowed(mime string) bool {
	if len(s.allow) == 0 {
		return true
	}
	for _, p := range s.allow {
		if strings.HasPrefix(mime, p) {
			return true
		}
	}
	return false
}

// cleanName keeps references flat; anything with a directory component is rejected.
func cleanName(name string) (string, error) {
	n := strings.TrimSpace(name)
	if n == "" || n != filepath.Base(n) || n == "." || n == ".." {
		return "", fmt.Errorf("invalid media name %q", name)
	}
	return n, nil
}
