package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveWritesContentAndMetadata(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	project := uuid.New()
	data := []byte("IDENTIFICATION DIVISION.\n")
	art, err := s.Save(project, "notes.txt", data)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(art.Path, s.ProjectDir(project)))
	assert.True(t, strings.HasSuffix(art.Path, "_notes.txt"))
	assert.Equal(t, int64(len(data)), art.Size)
	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), art.SHA256)
	assert.True(t, strings.HasPrefix(art.MimeType, "text/plain"))

	got, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = os.Stat(art.Path + ".partial")
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveCleansEmptyProjectDir(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	project := uuid.New()
	art, err := s.Save(project, "a.pdf", []byte("%PDF-1.4 test"))
	require.NoError(t, err)

	require.NoError(t, s.Remove(art.Path))
	_, err = os.Stat(s.ProjectDir(project))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, s.Remove(art.Path), "removing twice is fine")
}

func TestRemoveRejectsPathsOutsideBase(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	outside := filepath.Join(t.TempDir(), "victim.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))

	assert.Error(t, s.Remove(outside))
	_, err = os.Stat(outside)
	assert.NoError(t, err)
}

func TestOpenReadsSavedArtifact(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	art, err := s.Save(uuid.New(), "notes.txt", []byte("hello"))
	require.NoError(t, err)

	f, err := s.Open(art.Path)
	require.NoError(t, err)
	defer f.Close()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	_, err = s.Open(filepath.Join(t.TempDir(), "elsewhere.txt"))
	assert.Error(t, err)
}

func TestRemoveProject(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	project := uuid.New()
	_, err = s.Save(project, "one.txt", []byte("1"))
	require.NoError(t, err)
	_, err = s.Save(project, "two.txt", []byte("2"))
	require.NoError(t, err)

	require.NoError(t, s.RemoveProject(project))
	_, err = os.Stat(s.ProjectDir(project))
	assert.True(t, os.IsNotExist(err))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "passwd", SanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "my_report_v2.pdf", SanitizeFilename("my report v2.pdf"))
	assert.Equal(t, "file", SanitizeFilename(".."))
	assert.Equal(t, "x.cbl", SanitizeFilename(`C:\src\x.cbl`))
}
