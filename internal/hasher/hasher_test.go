package hasher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashFile_SameContentSameHash(t *testing.T) {
	h := New()
	dir := t.TempDir()

	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(a, []byte("identical content"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("identical content"), 0o644))

	hashA, err := h.HashFile(context.Background(), a)
	require.NoError(t, err)
	hashB, err := h.HashFile(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB)
}

func TestHashFile_DifferentContentDifferentHash(t *testing.T) {
	h := New()
	dir := t.TempDir()

	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(a, []byte("content one"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("content two"), 0o644))

	hashA, err := h.HashFile(context.Background(), a)
	require.NoError(t, err)
	hashB, err := h.HashFile(context.Background(), b)
	require.NoError(t, err)

	assert.NotEqual(t, hashA, hashB)
}

func TestHashFile_MissingFileErrors(t *testing.T) {
	h := New()
	_, err := h.HashFile(context.Background(), "/nonexistent/path/file.bin")
	assert.Error(t, err)
}

func TestAggregateFolderHash_OrderIndependent(t *testing.T) {
	children := []ChildHash{
		{RelativeName: "b.txt", Hash: "hash-b"},
		{RelativeName: "a.txt", Hash: "hash-a"},
		{RelativeName: "c.txt", Hash: "hash-c"},
	}
	reordered := []ChildHash{children[2], children[0], children[1]}

	assert.Equal(t, AggregateFolderHash(children), AggregateFolderHash(reordered))
}

func TestAggregateFolderHash_ContentChangeChangesHash(t *testing.T) {
	original := []ChildHash{{RelativeName: "a.txt", Hash: "hash-a"}}
	changed := []ChildHash{{RelativeName: "a.txt", Hash: "hash-a-modified"}}

	assert.NotEqual(t, AggregateFolderHash(original), AggregateFolderHash(changed))
}

func TestAggregateFolderHash_EmptyFolderIsSentinel(t *testing.T) {
	assert.Equal(t, EmptyFolderHash, AggregateFolderHash(nil))
	assert.Equal(t, EmptyFolderHash, AggregateFolderHash([]ChildHash{}))
}

func TestHashFilesParallel_AllSucceed(t *testing.T) {
	h := New()
	dir := t.TempDir()

	var paths []string
	for i := 0; i < 5; i++ {
		p := filepath.Join(dir, "file"+string(rune('a'+i))+".txt")
		require.NoError(t, os.WriteFile(p, []byte("data"), 0o644))
		paths = append(paths, p)
	}

	results := h.HashFilesParallel(context.Background(), paths, 3)
	assert.Len(t, results, 5)
	for _, p := range paths {
		assert.NotEmpty(t, results[p])
	}
}

func TestHashFilesParallel_MissingFileOmitted(t *testing.T) {
	h := New()
	dir := t.TempDir()
	good := filepath.Join(dir, "good.txt")
	require.NoError(t, os.WriteFile(good, []byte("data"), 0o644))

	results := h.HashFilesParallel(context.Background(), []string{good, "/nonexistent/missing.txt"}, 2)
	assert.Len(t, results, 1)
	assert.Contains(t, results, good)
}
