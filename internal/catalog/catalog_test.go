package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchkey-labs/pileup/internal/model"
	"github.com/latchkey-labs/pileup/internal/service"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(dbPath, Options{BatchSize: 2})
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_SecondProcessFailsToLock(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	s1, err := Open(dbPath, Options{})
	require.NoError(t, err)
	defer func() { _ = s1.Close() }()

	_, err = Open(dbPath, Options{})
	assert.Error(t, err)
}

func TestFile_UpsertAndGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &model.FileRecord{
		Path:       "/src/docs/report.pdf",
		FolderPath: "/src/docs",
		Mime:       "application/pdf",
		Size:       1024,
		Metadata:   map[string]string{"title": "report"},
		Classification: &model.Classification{
			CategoryPath: "Documents/PDF",
			Source:       model.SourceRuleFinal,
			Confidence:   1.0,
		},
	}
	require.NoError(t, s.UpsertFile(ctx, rec))

	got, err := s.GetFile(ctx, rec.Path)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.FolderPath, got.FolderPath)
	assert.Equal(t, "application/pdf", got.Mime)
	assert.Equal(t, "report", got.Metadata["title"])
	require.NotNil(t, got.Classification)
	assert.Equal(t, "Documents/PDF", got.Classification.CategoryPath)
}

func TestFile_GetMissingReturnsNilNoError(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetFile(context.Background(), "/does/not/exist")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFile_FilesInFolderAndUnderPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, p := range []string{"/src/a.txt", "/src/b.txt", "/src/sub/c.txt"} {
		folder := filepath.Dir(p)
		require.NoError(t, s.UpsertFile(ctx, &model.FileRecord{Path: p, FolderPath: folder}))
	}

	inFolder, err := s.FilesInFolder(ctx, "/src")
	require.NoError(t, err)
	assert.Len(t, inFolder, 2)

	underPrefix, err := s.FilesUnderPrefix(ctx, "/src")
	require.NoError(t, err)
	assert.Len(t, underPrefix, 3)
}

func TestFolder_UpsertAndDepthRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	folders := []*model.FolderRecord{
		{Path: "/src", ParentPath: "", Depth: 0, Action: model.ActionUnknown},
		{Path: "/src/a", ParentPath: "/src", Depth: 1, Action: model.ActionUnknown},
		{Path: "/src/a/b", ParentPath: "/src/a", Depth: 2, Action: model.ActionUnknown},
	}
	for _, f := range folders {
		require.NoError(t, s.UpsertFolder(ctx, f))
	}

	maxDepth, err := s.MaxDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, maxDepth)

	got, err := s.FoldersByDepthRange(ctx, service.FolderDepthRange{Min: 1, Max: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/src/a", got[0].Path)
}

func TestFolder_ActionUpdateRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &model.FolderRecord{Path: "/src/project", ParentPath: "/src", Depth: 1, Action: model.ActionUnknown}
	require.NoError(t, s.UpsertFolder(ctx, rec))

	rec.Action = model.ActionKeep
	rec.Source = model.SourceRuleFinal
	rec.CategoryPath = "Code/Project"
	require.NoError(t, s.UpsertFolder(ctx, rec))

	got, err := s.GetFolder(ctx, rec.Path)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.ActionKeep, got.Action)
	assert.Equal(t, "Code/Project", got.CategoryPath)
}

func TestDuplicateGroup_SaveAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	group := &model.DuplicateGroup{
		ID:            "dup-1",
		AggregateHash: "abc123",
		Canonical:     "/src/a",
		Members:       []string{"/src/a", "/backup/a"},
	}
	require.NoError(t, s.SaveDuplicateGroup(ctx, group))

	got, err := s.DuplicateGroupByHash(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/src/a", got.Canonical)
	assert.ElementsMatch(t, group.Members, got.Members)

	all, err := s.AllDuplicateGroups(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPlanEntries_SaveReplacesPriorPlan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := []model.PlanEntry{{ID: "1", SourcePath: "/a", TargetPath: "/out/a", Operation: model.OpPlace}}
	require.NoError(t, s.SavePlanEntries(ctx, first))

	second := []model.PlanEntry{
		{ID: "2", SourcePath: "/b", TargetPath: "/out/b", Operation: model.OpPlace},
		{ID: "3", SourcePath: "/c", TargetPath: "/out/c", Operation: model.OpSkipDuplicate, DuplicateOf: "/out/b"},
	}
	require.NoError(t, s.SavePlanEntries(ctx, second))

	got, err := s.AllPlanEntries(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/b", got[0].SourcePath)
	assert.Equal(t, model.OpSkipDuplicate, got[1].Operation)
	assert.Equal(t, "/out/b", got[1].DuplicateOf)
}

func TestMigrate_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}
