package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetMany(map[string]any{
		KeyAuthenticated: true,
		KeySemesters:     []string{"2024S", "2024W"},
		KeyUserInfo:      map[string]string{"fullname": "Ada Lovelace"},
	}))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.True(t, reopened.Get(KeyAuthenticated).Bool())
	assert.Equal(t, "2024W", reopened.Get(KeySemesters).Array()[1].String())
	assert.Equal(t, "Ada Lovelace", reopened.Get(KeyUserInfo).Get("fullname").String())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRemoveAndClear(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Set(KeyWebcalDataURI, "webcal:data:x"))
	require.NoError(t, s.Set(KeyDownloadURL, "data:x"))

	require.NoError(t, s.Remove(KeyWebcalDataURI))
	assert.False(t, s.Get(KeyWebcalDataURI).Exists())
	assert.Equal(t, "data:x", s.Get(KeyDownloadURL).String())

	require.NoError(t, s.Clear())
	assert.False(t, s.Get(KeyDownloadURL).Exists())
}

func TestKeysWithDotsStayFlat(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Set("calendar.2024W", "body"))
	assert.Equal(t, "body", s.Get("calendar.2024W").String())
	assert.False(t, s.Get("calendar").Exists())
}

func TestOpenRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := Open(path)
	assert.Error(t, err)
}

func TestInitDefaults(t *testing.T) {
	s := NewMemory()
	require.NoError(t, InitDefaults(s, "de_AT.UTF-8"))
	assert.Equal(t, "de", s.Get(KeyLanguage).String())
	assert.Equal(t, "system", s.Get(KeyTheme).String())

	require.NoError(t, s.Set(KeyTheme, "dark"))
	require.NoError(t, InitDefaults(s, "en_US.UTF-8"))
	assert.Equal(t, "de", s.Get(KeyLanguage).String())
	assert.Equal(t, "dark", s.Get(KeyTheme).String())
}
