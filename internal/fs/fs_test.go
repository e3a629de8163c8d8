package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomicReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, WriteFileAtomic(Default, path, []byte("one"), 0o644))
	require.NoError(t, WriteFileAtomic(Default, path, []byte("two"), 0o644))

	got, err := ReadFile(Default, path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	entries, err := Default.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp file left behind")
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, Default.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, WriteFileAtomic(Default, filepath.Join(src, "a"), []byte("aa"), 0o644))
	require.NoError(t, WriteFileAtomic(Default, filepath.Join(src, "sub", "b"), []byte("bb"), 0o644))

	require.NoError(t, CopyTree(Default, src, dst))
	got, err := ReadFile(Default, filepath.Join(dst, "sub", "b"))
	require.NoError(t, err)
	assert.Equal(t, "bb", string(got))
}

func TestMoveTreeMovesContents(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "moved")
	require.NoError(t, WriteFileAtomic(Default, filepath.Join(src, "a"), []byte("data"), 0o644))

	require.NoError(t, MoveTree(Default, src, dst))
	got, err := ReadFile(Default, filepath.Join(dst, "a"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
	_, err = Default.Stat(src)
	assert.True(t, os.IsNotExist(err))
}
