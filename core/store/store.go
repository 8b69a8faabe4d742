package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// FileStore persists uploaded bytes under collision-free names.
type FileStore interface {
	// Save writes r to a new file derived from originalName and returns the
	// path. The returned path is exclusively owned by the caller: no other
	// concurrent Save can return the same path.
	Save(r io.Reader, originalName string) (string, error)
	// Delete removes the file at path. A file that is already gone counts as
	// success; a single failed attempt is not retried here; retry policy
	// belongs to the caller.
	Delete(path string) error
	// Exists reports whether path resolves to an existing file.
	Exists(path string) bool
}

var nonAlphaNumeric = regexp.MustCompile(`[^a-zA-Z0-9_\-\.]`)
var multipleSpaces = regexp.MustCompile(`\s+`)

// DiskStore is a FileStore over a single local directory.
type DiskStore struct {
	dir string
	now func() time.Time // Injected in tests
}

// NewDiskStore creates a DiskStore rooted at dir, creating it if absent.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}
	return &DiskStore{dir: dir, now: time.Now}, nil
}

// Dir returns the directory this store writes into.
func (s *DiskStore) Dir() string { return s.dir }

// sanitizeBaseName strips the extension and anything that doesn't belong in a
// filename.
func sanitizeBaseName(originalName string) string {
	base := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	base = multipleSpaces.ReplaceAllString(strings.TrimSpace(base), "_")
	base = nonAlphaNumeric.ReplaceAllString(base, "")

	// Prevent overly long filenames.
	if len(base) > 150 {
		base = base[:150]
	}
	if base == "" {
		base = "track"
	}
	return base
}

// Save writes r under "{base}_{timestamp}{ext}", appending "_{counter}" while
// the name is taken. The file is opened with O_EXCL so the probe and the
// create are one atomic step; two concurrent saves can never win the same
// path.
func (s *DiskStore) Save(r io.Reader, originalName string) (string, error) {
	base := sanitizeBaseName(originalName)
	ext := strings.ToLower(filepath.Ext(originalName))
	timestamp := s.now().Format("20060102_150405")

	name := fmt.Sprintf("%s_%s%s", base, timestamp, ext)
	counter := 0
	for {
		path := filepath.Join(s.dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			if _, err := io.Copy(f, r); err != nil {
				f.Close()
				os.Remove(path)
				return "", fmt.Errorf("failed to write uploaded file %s: %w", path, err)
			}
			if err := f.Close(); err != nil {
				os.Remove(path)
				return "", fmt.Errorf("failed to close uploaded file %s: %w", path, err)
			}
			return path, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to create file %s: %w", path, err)
		}
		counter++
		name = fmt.Sprintf("%s_%s_%d%s", base, timestamp, counter, ext)
	}
}

// Delete removes the file at path.
func (s *DiskStore) Delete(path string) error {
	err := os.Remove(path)
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("failed to delete file %s: %w", path, err)
}

// Exists reports whether path resolves to an existing file.
func (s *DiskStore) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
