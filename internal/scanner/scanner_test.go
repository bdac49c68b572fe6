package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchkey-labs/pileup/internal/catalog"
	"github.com/latchkey-labs/pileup/internal/model"
)

func newTestCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	s, err := catalog.Open(dbPath, catalog.Options{})
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeFile(t *testing.T, fs billy.Filesystem, path, content string) {
	t.Helper()
	f, err := fs.Create(path)
	require.NoError(t, err)
	_, err = f.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestScan_RecordsFilesAndFolders(t *testing.T) {
	cat := newTestCatalog(t)
	fs := memfs.New()

	writeFile(t, fs, "/src/a.txt", "hello")
	writeFile(t, fs, "/src/sub/b.txt", "world")

	s := &Scanner{FS: fs, Catalog: cat, Workers: 2}
	res, err := s.Scan(context.Background(), "/src")
	require.NoError(t, err)

	assert.Equal(t, 2, res.FilesScanned)
	assert.Equal(t, 2, res.FoldersScanned) // /src and /src/sub

	got, err := cat.GetFile(context.Background(), "/src/a.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/src", got.FolderPath)
}

func TestScan_SkipsAlreadyKeptSubtree(t *testing.T) {
	cat := newTestCatalog(t)
	fs := memfs.New()

	writeFile(t, fs, "/src/project/.git/config", "[core]")
	writeFile(t, fs, "/src/project/main.go", "package main")

	require.NoError(t, cat.UpsertFolder(context.Background(), &model.FolderRecord{
		Path: "/src/project", ParentPath: "/src", Depth: 1, Action: model.ActionKeep,
	}))
	require.NoError(t, cat.Flush(context.Background()))

	s := &Scanner{FS: fs, Catalog: cat, Workers: 2}
	res, err := s.Scan(context.Background(), "/src/project")
	require.NoError(t, err)

	assert.Equal(t, 1, res.FoldersSkipped)
	assert.Equal(t, 0, res.FilesScanned)
}

func TestLoadIgnoreFile_MissingIsNotError(t *testing.T) {
	s := &Scanner{}
	err := s.LoadIgnoreFile(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, s.Ignore)
}

func TestLoadIgnoreFile_AppliesPatterns(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".pileupignore"), []byte("node_modules/\n*.tmp\n"), 0o644))

	s := &Scanner{}
	require.NoError(t, s.LoadIgnoreFile(dir))
	require.NotNil(t, s.Ignore)

	assert.True(t, s.isIgnored("node_modules", true))
	assert.True(t, s.isIgnored("cache.tmp", false))
	assert.False(t, s.isIgnored("main.go", false))
}
