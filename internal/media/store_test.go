package media

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestSaveReadRemove(t *testing.T) {
	t.Parallel()
	s := New(afero.NewMemMapFs())

	name, err := s.Save("photo.PNG", bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, ".png"))

	f, err := s.Read(name)
	require.NoError(t, err)
	assert.Equal(t, "image/png", f.MimeType)
	assert.Equal(t, pngHeader, f.Data)

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{name}, names)

	require.NoError(t, s.Remove(name))
	require.NoError(t, s.Remove(name), "removing a missing file is not an error")
	names, err = s.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSaveEnforcesLimits(t *testing.T) {
	t.Parallel()
	s := New(afero.NewMemMapFs(), WithMaxBytes(4))
	_, err := s.Save("big.txt", strings.NewReader("hello world"))
	assert.True(t, errors.Is(err, ErrTooLarge))

	img := New(afero.NewMemMapFs(), WithAllowedTypes("image/"))
	_, err = img.Save("notes.txt", strings.NewReader("plain text"))
	assert.True(t, errors.Is(err, ErrTypeNotAllowed))
}

func TestRejectsPathTraversal(t *testing.T) {
	t.Parallel()
	s := New(afero.NewMemMapFs())
	_, err := s.Read("../etc/passwd")
	assert.Error(t, err)
	assert.Error(t, s.Remove("a/b.png"))
}
