// Package artifacts keeps the bytes of additional project files on disk.
package artifacts

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Artifact describes a file written by Save.
type Artifact struct {
	Path     string
	Size     int64
	SHA256   string
	MimeType string
}

// Store persists artifacts under basePath, one directory per project.
type Store struct {
	basePath string
}

// NewStore creates a Store rooted at basePath.
func NewStore(basePath string) (*Store, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Store{basePath: abs}, nil
}

// ProjectDir returns the directory holding a project's artifacts.
func (s *Store) ProjectDir(projectUUID uuid.UUID) string {
	return filepath.Join(s.basePath, projectUUID.String())
}

// Save writes data to disk and computes its checksum and content type.
// The file only appears under its final name once fully written.
func (s *Store) Save(projectUUID uuid.UUID, filename string, data []byte) (Artifact, error) {
	dir := s.ProjectDir(projectUUID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifact{}, err
	}

	finalPath := filepath.Join(dir, uuid.NewString()+"_"+SanitizeFilename(filename))
	tmpPath := finalPath + ".partial"
	file, err := os.Create(tmpPath)
	if err != nil {
		return Artifact{}, err
	}
	defer file.Close()

	hasher := sha256.New()
	w := io.MultiWriter(file, hasher)
	written, err := io.Copy(w, bytes.NewReader(data))
	if err != nil {
		_ = os.Remove(tmpPath)
		return Artifact{}, err
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return Artifact{}, err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return Artifact{}, err
	}

	return Artifact{
		Path:     finalPath,
		Size:     written,
		SHA256:   hex.EncodeToString(hasher.Sum(nil)),
		MimeType: mimetype.Detect(data).String(),
	}, nil
}

// Open opens an artifact for reading.
func (s *Store) Open(path string) (*os.File, error) {
	if err := s.contains(path); err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Remove deletes the artifact at path along with any project directory it
// leaves empty. A missing file is not an error.
func (s *Store) Remove(path string) error {
	if err := s.contains(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for dir := filepath.Dir(path); dir != s.basePath && strings.HasPrefix(dir, s.basePath); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			// Not empty, or already gone.
			break
		}
	}
	return nil
}

// RemoveProject deletes every artifact stored for the project.
func (s *Store) RemoveProject(projectUUID uuid.UUID) error {
	return os.RemoveAll(s.ProjectDir(projectUUID))
}

func (s *Store) contains(path string) error {
	rel, err := filepath.Rel(s.basePath, filepath.Clean(path))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("artifact path %q is outside %s", path, s.basePath)
	}
	return nil
}

// SanitizeFilename reduces name to a single safe path element.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}
