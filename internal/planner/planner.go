// Package planner implements the Planner: it consumes the frozen
// catalog and produces a deterministic set of PlanEntry records mapping
// every source path to a target path, an operation, and the stage that
// decided it.
package planner

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/latchkey-labs/pileup/internal/common"
	"github.com/latchkey-labs/pileup/internal/model"
	"github.com/latchkey-labs/pileup/internal/service"
)

// Planner builds a Plan from the catalog's frozen state.
type Planner struct {
	Catalog service.Catalog
}

// New returns a Planner over catalog.
func New(catalog service.Catalog) *Planner {
	return &Planner{Catalog: catalog}
}

// Run builds the full plan and persists it, replacing any prior plan
// in a single deterministic recomputation, per spec.md section 4.8.
func (p *Planner) Run(ctx context.Context) ([]model.PlanEntry, error) {
	folders, err := p.Catalog.FoldersByDepthRange(ctx, service.FolderDepthRange{Min: 0, Max: 1 << 30})
	if err != nil {
		return nil, fmt.Errorf("%w: reading folders for planning: %v", common.ErrCatalog, err)
	}
	sort.Slice(folders, func(i, j int) bool {
		if folders[i].Depth != folders[j].Depth {
			return folders[i].Depth < folders[j].Depth
		}
		return folders[i].Path < folders[j].Path
	})

	folderByPath := make(map[string]*model.FolderRecord, len(folders))
	for i := range folders {
		folderByPath[folders[i].Path] = &folders[i]
	}

	dupByMember, err := p.duplicateIndex(ctx)
	if err != nil {
		return nil, err
	}

	used := map[string]bool{} // target path collision tracker, across the whole run

	var entries []model.PlanEntry

	for i := range folders {
		f := folders[i]
		if f.Action != model.ActionKeep {
			continue
		}
		if isTopLevelKeep(f, folderByPath) {
			entry, err := p.planKeepFolder(ctx, &f, used, dupByMember)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry...)
		}
	}

	for i := range folders {
		f := folders[i]
		if f.Action != model.ActionDisaggregate {
			continue
		}
		entry, err := p.planDisaggregateFolderFiles(ctx, &f, used, dupByMember)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry...)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].SourcePath < entries[j].SourcePath })

	if err := p.Catalog.SavePlanEntries(ctx, entries); err != nil {
		return nil, fmt.Errorf("%w: saving plan: %v", common.ErrCatalog, err)
	}
	return entries, nil
}

// isTopLevelKeep reports whether f is a keep folder whose parent is not
// itself keep — the anchor point the planner places as a unit.
func isTopLevelKeep(f model.FolderRecord, byPath map[string]*model.FolderRecord) bool {
	parent, ok := byPath[f.ParentPath]
	if !ok {
		return true
	}
	return parent.Action != model.ActionKeep
}

// duplicateIndex maps every duplicate-group member path to its group, so
// planning can look up "is this path a duplicate, and if so of what" in
// constant time.
func (p *Planner) duplicateIndex(ctx context.Context) (map[string]*model.DuplicateGroup, error) {
	groups, err := p.Catalog.AllDuplicateGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reading duplicate groups: %v", common.ErrCatalog, err)
	}
	idx := make(map[string]*model.DuplicateGroup, len(groups)*2)
	for i := range groups {
		g := &groups[i]
		for _, m := range g.Members {
			idx[m] = g
		}
	}
	return idx, nil
}

// planKeepFolder plans the folder itself as a single unit at
// <folder_category_path>/<folder_basename>; if the folder is a
// non-canonical member of a duplicate group, a single skip-duplicate
// entry is returned instead.
func (p *Planner) planKeepFolder(ctx context.Context, f *model.FolderRecord, used map[string]bool, dup map[string]*model.DuplicateGroup) ([]model.PlanEntry, error) {
	if group, ok := dup[f.Path]; ok && group.Canonical != f.Path {
		return []model.PlanEntry{{
			ID:                uuid.NewString(),
			SourcePath:        f.Path,
			Operation:         model.OpSkipDuplicate,
			DuplicateOf:       group.Canonical,
			OriginatingSource: f.Source,
		}}, nil
	}

	base := path.Base(f.Path)
	categoryPath := f.CategoryPath
	if categoryPath == "" {
		categoryPath = defaultCategory
	}
	target := uniquify(path.Join(categoryPath, base), used)

	return []model.PlanEntry{{
		ID:                uuid.NewString(),
		SourcePath:        f.Path,
		TargetPath:        target,
		Operation:         model.OpKeepUnit,
		OriginatingSource: f.Source,
	}}, nil
}

const defaultCategory = "Other/Unsorted"

// planDisaggregateFolderFiles plans every direct file child of a
// disaggregate-terminal folder at <category_path>/<basename>, applying
// duplicate suppression and collision resolution.
func (p *Planner) planDisaggregateFolderFiles(ctx context.Context, f *model.FolderRecord, used map[string]bool, dup map[string]*model.DuplicateGroup) ([]model.PlanEntry, error) {
	files, err := p.Catalog.FilesInFolder(ctx, f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading files of %s for planning: %v", common.ErrCatalog, f.Path, err)
	}

	var entries []model.PlanEntry
	for i := range files {
		file := &files[i]

		if group, ok := dup[file.Path]; ok && group.Canonical != file.Path {
			entries = append(entries, model.PlanEntry{
				ID:                uuid.NewString(),
				SourcePath:        file.Path,
				Operation:         model.OpSkipDuplicate,
				DuplicateOf:       group.Canonical,
				OriginatingSource: classificationSource(file),
			})
			continue
		}

		categoryPath := defaultCategory
		var source model.ClassificationSource = model.SourceDefault
		if file.Classification != nil && file.Classification.CategoryPath != "" {
			categoryPath = file.Classification.CategoryPath
			source = file.Classification.Source
		}
		categoryPath = applyBackupGrouping(categoryPath, file.Metadata)

		target := uniquify(path.Join(categoryPath, path.Base(file.Path)), used)
		entries = append(entries, model.PlanEntry{
			ID:                uuid.NewString(),
			SourcePath:        file.Path,
			TargetPath:        target,
			Operation:         model.OpPlace,
			OriginatingSource: source,
		})
	}
	return entries, nil
}

func classificationSource(f *model.FileRecord) model.ClassificationSource {
	if f.Classification == nil {
		return model.SourceDefault
	}
	return f.Classification.Source
}

// applyBackupGrouping appends year/month segments to a category path
// when the file's metadata carries the reserved backup_year/backup_month
// capture names, per spec.md section 4.8's dated-backup grouping.
func applyBackupGrouping(categoryPath string, metadata map[string]string) string {
	year := metadata["backup_year"]
	month := metadata["backup_month"]
	if year == "" {
		return categoryPath
	}
	if month == "" {
		return path.Join(categoryPath, year)
	}
	return path.Join(categoryPath, year, month)
}

// uniquify appends a deterministic numeric suffix ("name (2).ext") until
// target is free, then reserves it in used.
func uniquify(target string, used map[string]bool) string {
	if !used[target] {
		used[target] = true
		return target
	}

	dir := path.Dir(target)
	base := path.Base(target)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for n := 2; ; n++ {
		candidate := path.Join(dir, stem+" ("+strconv.Itoa(n)+")"+ext)
		if !used[candidate] {
			used[candidate] = true
			return candidate
		}
	}
}
