package syncrunner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobFilter_PassesEverythingWhenNoIncludes(t *testing.T) {
	t.Parallel()

	f := newGlobFilter(nil, nil)
	assert.True(t, f.passes("anything/at/all.txt"))
}

func TestGlobFilter_ExcludeWins(t *testing.T) {
	t.Parallel()

	f := newGlobFilter([]string{"**/*.txt"}, []string{"**/secret.txt"})
	assert.True(t, f.passes("docs/readme.txt"))
	assert.False(t, f.passes("docs/secret.txt"))
}

func TestGlobFilter_RequiresIncludeMatch(t *testing.T) {
	t.Parallel()

	f := newGlobFilter([]string{"**/*.txt"}, nil)
	assert.True(t, f.passes("a/b/c.txt"))
	assert.False(t, f.passes("a/b/c.jpg"))
}

func TestEnumerateLocal_WalksDirectoriesRegardlessOfFilter(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "skip-me-as-file", "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "skip-me-as-file", "nested", "keep.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ignore.jpg"), []byte("y"), 0o644))

	filter := newGlobFilter([]string{"**/*.txt"}, nil)

	entries, err := EnumerateLocal(root, filter)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "skip-me-as-file/nested/keep.txt", entries[0].RelPath)
}

func TestEnumerateLocal_SortsByRelPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("y"), 0o644))

	entries, err := EnumerateLocal(root, newGlobFilter(nil, nil))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.txt", entries[0].RelPath)
	assert.Equal(t, "b.txt", entries[1].RelPath)
}
