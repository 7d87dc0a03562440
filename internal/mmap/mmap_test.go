package mmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestMapping(t *testing.T) {
	t.Run("ReadBack", func(t *testing.T) {
		path := writeFile(t, []byte("hello mmap"))

		m, err := Open(path)
		require.NoError(t, err)
		defer m.Close()

		assert.Equal(t, 10, m.Size())
		assert.Equal(t, []byte("hello mmap"), m.Bytes())
	})

	t.Run("EmptyFile", func(t *testing.T) {
		path := writeFile(t, nil)

		m, err := Open(path)
		require.NoError(t, err)
		defer m.Close()

		assert.Zero(t, m.Size())
		assert.Nil(t, m.Bytes())
	})

	t.Run("Range", func(t *testing.T) {
		path := writeFile(t, []byte("0123456789"))

		m, err := Open(path)
		require.NoError(t, err)
		defer m.Close()

		b, err := m.Range(2, 3)
		require.NoError(t, err)
		assert.Equal(t, []byte("234"), b)

		_, err = m.Range(8, 5)
		assert.ErrorIs(t, err, ErrOutOfBounds)

		_, err = m.Range(-1, 2)
		assert.ErrorIs(t, err, ErrOutOfBounds)
	})

	t.Run("CloseIdempotent", func(t *testing.T) {
		path := writeFile(t, []byte("x"))

		m, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, m.Close())
		require.NoError(t, m.Close())
		assert.Nil(t, m.Bytes())
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "nope.bin"))
		assert.Error(t, err)
	})
}
