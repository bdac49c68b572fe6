package planner

import (
	"context"
	"path/filepath"
	"testing"

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

func TestRun_PlacesDisaggregateFiles(t *testing.T) {
	cat := newTestCatalog(t)
	require.NoError(t, cat.UpsertFolder(context.Background(), &model.FolderRecord{
		Path: "/src", Depth: 0, Action: model.ActionDisaggregate, Source: model.SourceDefault,
	}))
	require.NoError(t, cat.UpsertFile(context.Background(), &model.FileRecord{
		Path: "/src/a.jpg", FolderPath: "/src", Metadata: map[string]string{},
		Classification: &model.Classification{CategoryPath: "Photos/JPEG", Source: model.SourceRuleFinal},
	}))
	require.NoError(t, cat.Flush(context.Background()))

	entries, err := New(cat).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/src/a.jpg", entries[0].SourcePath)
	assert.Equal(t, "Photos/JPEG/a.jpg", entries[0].TargetPath)
	assert.Equal(t, model.OpPlace, entries[0].Operation)
}

func TestRun_CollisionGetsNumericSuffix(t *testing.T) {
	cat := newTestCatalog(t)
	require.NoError(t, cat.UpsertFolder(context.Background(), &model.FolderRecord{
		Path: "/src", Depth: 0, Action: model.ActionDisaggregate, Source: model.SourceDefault,
	}))
	require.NoError(t, cat.UpsertFolder(context.Background(), &model.FolderRecord{
		Path: "/src/sub", ParentPath: "/src", Depth: 1, Action: model.ActionDisaggregate, Source: model.SourceDefault,
	}))
	cls := &model.Classification{CategoryPath: "Docs", Source: model.SourceRuleFinal}
	require.NoError(t, cat.UpsertFile(context.Background(), &model.FileRecord{
		Path: "/src/report.pdf", FolderPath: "/src", Metadata: map[string]string{}, Classification: cls,
	}))
	require.NoError(t, cat.UpsertFile(context.Background(), &model.FileRecord{
		Path: "/src/sub/report.pdf", FolderPath: "/src/sub", Metadata: map[string]string{}, Classification: cls,
	}))
	require.NoError(t, cat.Flush(context.Background()))

	entries, err := New(cat).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	targets := map[string]bool{}
	for _, e := range entries {
		targets[e.TargetPath] = true
	}
	assert.True(t, targets["Docs/report.pdf"])
	assert.True(t, targets["Docs/report (2).pdf"])
}

func TestRun_KeepFolderPlannedAsUnit(t *testing.T) {
	cat := newTestCatalog(t)
	require.NoError(t, cat.UpsertFolder(context.Background(), &model.FolderRecord{
		Path: "/src", Depth: 0, Action: model.ActionDisaggregate, Source: model.SourceDefault,
	}))
	require.NoError(t, cat.UpsertFolder(context.Background(), &model.FolderRecord{
		Path: "/src/project", ParentPath: "/src", Depth: 1,
		Action: model.ActionKeep, Source: model.SourceRuleFinal, CategoryPath: "Code/Project",
	}))
	require.NoError(t, cat.UpsertFolder(context.Background(), &model.FolderRecord{
		Path: "/src/project/vendor", ParentPath: "/src/project", Depth: 2,
		Action: model.ActionKeep, Source: model.SourceInherited,
	}))
	require.NoError(t, cat.Flush(context.Background()))

	entries, err := New(cat).Run(context.Background())
	require.NoError(t, err)

	var topEntry *model.PlanEntry
	for i := range entries {
		if entries[i].SourcePath == "/src/project" {
			topEntry = &entries[i]
		}
		assert.NotEqual(t, "/src/project/vendor", entries[i].SourcePath, "inherited descendant should not be separately planned")
	}
	require.NotNil(t, topEntry)
	assert.Equal(t, "Code/Project/project", topEntry.TargetPath)
	assert.Equal(t, model.OpKeepUnit, topEntry.Operation)
}

func TestRun_DuplicateMembersSkipped(t *testing.T) {
	cat := newTestCatalog(t)
	require.NoError(t, cat.UpsertFolder(context.Background(), &model.FolderRecord{
		Path: "/src", Depth: 0, Action: model.ActionDisaggregate, Source: model.SourceDefault,
	}))
	cls := &model.Classification{CategoryPath: "Docs", Source: model.SourceRuleFinal}
	require.NoError(t, cat.UpsertFile(context.Background(), &model.FileRecord{
		Path: "/src/a.pdf", FolderPath: "/src", Metadata: map[string]string{}, Classification: cls,
	}))
	require.NoError(t, cat.UpsertFile(context.Background(), &model.FileRecord{
		Path: "/src/b.pdf", FolderPath: "/src", Metadata: map[string]string{}, Classification: cls,
	}))
	require.NoError(t, cat.SaveDuplicateGroup(context.Background(), &model.DuplicateGroup{
		AggregateHash: "h1", Canonical: "/src/a.pdf", Members: []string{"/src/a.pdf", "/src/b.pdf"},
	}))
	require.NoError(t, cat.Flush(context.Background()))

	entries, err := New(cat).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byPath := map[string]model.PlanEntry{}
	for _, e := range entries {
		byPath[e.SourcePath] = e
	}
	assert.Equal(t, model.OpPlace, byPath["/src/a.pdf"].Operation)
	assert.Equal(t, model.OpSkipDuplicate, byPath["/src/b.pdf"].Operation)
	assert.Equal(t, "/src/a.pdf", byPath["/src/b.pdf"].DuplicateOf)
}

func TestRun_BackupGroupingPrependsYearMonth(t *testing.T) {
	cat := newTestCatalog(t)
	require.NoError(t, cat.UpsertFolder(context.Background(), &model.FolderRecord{
		Path: "/src", Depth: 0, Action: model.ActionDisaggregate, Source: model.SourceDefault,
	}))
	require.NoError(t, cat.UpsertFile(context.Background(), &model.FileRecord{
		Path: "/src/backup.tar", FolderPath: "/src",
		Metadata:       map[string]string{"backup_year": "2024", "backup_month": "03"},
		Classification: &model.Classification{CategoryPath: "Backups", Source: model.SourceRuleFinal},
	}))
	require.NoError(t, cat.Flush(context.Background()))

	entries, err := New(cat).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Backups/2024/03/backup.tar", entries[0].TargetPath)
}

func TestRun_EntriesSortedBySourcePath(t *testing.T) {
	cat := newTestCatalog(t)
	require.NoError(t, cat.UpsertFolder(context.Background(), &model.FolderRecord{
		Path: "/src", Depth: 0, Action: model.ActionDisaggregate, Source: model.SourceDefault,
	}))
	for _, name := range []string{"z.txt", "a.txt", "m.txt"} {
		require.NoError(t, cat.UpsertFile(context.Background(), &model.FileRecord{
			Path: "/src/" + name, FolderPath: "/src", Metadata: map[string]string{},
			Classification: &model.Classification{CategoryPath: "Text", Source: model.SourceRuleFinal},
		}))
	}
	require.NoError(t, cat.Flush(context.Background()))

	entries, err := New(cat).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "/src/a.txt", entries[0].SourcePath)
	assert.Equal(t, "/src/m.txt", entries[1].SourcePath)
	assert.Equal(t, "/src/z.txt", entries[2].SourcePath)
}
