// Package classifier implements the Classifier Chain: the folder-action
// decision tree (rules, then AI, then default) walked in strict
// depth-ascending order, followed by per-file classification within each
// folder once its action is settled.
package classifier

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/latchkey-labs/pileup/internal/aiclient"
	"github.com/latchkey-labs/pileup/internal/common"
	"github.com/latchkey-labs/pileup/internal/model"
	"github.com/latchkey-labs/pileup/internal/rules"
	"github.com/latchkey-labs/pileup/internal/service"
)

const defaultCategory = "Other/Unsorted"

// parentCacheSize bounds the Chain's ancestor-action cache. A folder's
// parent is looked up once per child during the depth-ascending sweep, so
// a few thousand entries keeps a deep, wide tree's repeated ancestors
// (the same parent is read by every one of its direct children) out of
// SQLite without holding the whole catalog in memory.
const parentCacheSize = 4096

// Chain holds everything a classification pass needs: the compiled rules,
// an optional AI client (nil disables the AI stage entirely), the shared
// catalog, and the probe used to fill in a file's MIME lazily.
type Chain struct {
	Rules       *rules.Engine
	AI          aiclient.Client // nil disables the AI stage
	Catalog     service.Catalog
	Probe       service.MetadataProbe
	SampleLimit int
	SourceRoots map[string]bool

	// WrapperRegex, when set, strips a matching top-level segment
	// immediately under a source root from the path handed to the Rules
	// Engine and the AI client, without touching the stored record path.
	WrapperRegex *regexp.Regexp

	parentCache *lru.Cache[string, *model.FolderRecord]
}

// New builds a Chain. ai may be nil (AI stage skipped, chain falls to default).
func New(engine *rules.Engine, ai aiclient.Client, catalog service.Catalog, probe service.MetadataProbe, sampleLimit int, sourceRoots []string) *Chain {
	roots := make(map[string]bool, len(sourceRoots))
	for _, r := range sourceRoots {
		roots[path.Clean(r)] = true
	}
	if sampleLimit <= 0 {
		sampleLimit = 48
	}
	cache, _ := lru.New[string, *model.FolderRecord](parentCacheSize)
	return &Chain{Rules: engine, AI: ai, Catalog: catalog, Probe: probe, SampleLimit: sampleLimit, SourceRoots: roots, parentCache: cache}
}

// getFolderCached reads a FolderRecord by path, checking the parent-action
// cache before the catalog. The cache is filled both by the sweep's own
// writes (via saveFolder) and by folders this method reads from the
// catalog on a cache miss.
func (c *Chain) getFolderCached(ctx context.Context, p string) (*model.FolderRecord, error) {
	if c.parentCache != nil {
		if f, ok := c.parentCache.Get(p); ok {
			return f, nil
		}
	}
	f, err := c.Catalog.GetFolder(ctx, p)
	if err != nil {
		return nil, err
	}
	if c.parentCache != nil && f != nil {
		c.parentCache.Add(p, f)
	}
	return f, nil
}

// WithWrapperRegex sets the wrapper-stripping pattern and returns c for
// chaining at construction time.
func (c *Chain) WithWrapperRegex(re *regexp.Regexp) *Chain {
	c.WrapperRegex = re
	return c
}

// matchPath returns the path the Rules Engine and AI client should see for
// p: if p sits under a source root whose immediate child segment matches
// WrapperRegex, that segment is elided, per SPEC_FULL.md's source-root
// wrapper stripping.
func (c *Chain) matchPath(p string) string {
	if c.WrapperRegex == nil {
		return p
	}
	for root := range c.SourceRoots {
		if root != p && !strings.HasPrefix(p, root+"/") {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
		if rel == "" {
			return p
		}
		parts := strings.SplitN(rel, "/", 2)
		if !c.WrapperRegex.MatchString(parts[0]) {
			return p
		}
		if len(parts) == 2 {
			return path.Join(root, parts[1])
		}
		return root
	}
	return p
}

// Stats summarizes one Run.
type Stats struct {
	FoldersClassified int
	FilesClassified   int
	AICalls           int
	AIFailures        int
}

// Run walks every folder in the catalog strictly in ascending depth,
// classifying each one and then its direct file children, enforcing the
// inheritance invariant along the way.
func (c *Chain) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	maxDepth, err := c.Catalog.MaxDepth(context.WithoutCancel(ctx))
	if err != nil {
		return stats, fmt.Errorf("%w: reading catalog max depth: %v", common.ErrCatalog, err)
	}

	for depth := 0; depth <= maxDepth; depth++ {
		if ctx.Err() != nil {
			// Wall-clock budget exceeded: spec.md section 5 has remaining
			// folders fall through to default rather than fail the run.
			return c.defaultRemaining(context.Background(), depth, maxDepth, stats)
		}

		folders, err := c.Catalog.FoldersByDepthRange(ctx, service.FolderDepthRange{Min: depth, Max: depth})
		if err != nil {
			return stats, fmt.Errorf("%w: reading folders at depth %d: %v", common.ErrCatalog, depth, err)
		}
		sort.Slice(folders, func(i, j int) bool { return folders[i].Path < folders[j].Path })

		for i := range folders {
			if ctx.Err() != nil {
				return c.defaultRemaining(context.Background(), depth, maxDepth, stats)
			}
			folder := folders[i]
			if folder.IsClassified() {
				continue // already classified in a prior run; restartable
			}
			if err := c.classifyFolder(ctx, &folder); err != nil {
				return stats, err
			}
			stats.FoldersClassified++

			n, aiCalls, aiFailures, err := c.classifyFiles(ctx, &folder)
			if err != nil {
				return stats, err
			}
			stats.FilesClassified += n
			stats.AICalls += aiCalls
			stats.AIFailures += aiFailures
		}
	}

	return stats, nil
}

// defaultRemaining force-classifies every unclassified folder from depth
// onward to the default decision, and its files to the default category,
// used when the classification stage's wall-clock budget is exceeded.
// It uses a background context since the caller's context has already
// expired.
func (c *Chain) defaultRemaining(ctx context.Context, fromDepth, maxDepth int, stats Stats) (Stats, error) {
	for depth := fromDepth; depth <= maxDepth; depth++ {
		folders, err := c.Catalog.FoldersByDepthRange(ctx, service.FolderDepthRange{Min: depth, Max: depth})
		if err != nil {
			return stats, fmt.Errorf("%w: reading folders at depth %d: %v", common.ErrCatalog, depth, err)
		}
		for i := range folders {
			folder := folders[i]
			if folder.IsClassified() {
				continue
			}
			folder.Action = model.ActionDisaggregate
			folder.Source = model.SourceDefault
			folder.CategoryPath = ""
			if err := c.saveFolder(ctx, &folder); err != nil {
				return stats, err
			}
			stats.FoldersClassified++

			files, err := c.Catalog.FilesInFolder(ctx, folder.Path)
			if err != nil {
				return stats, fmt.Errorf("%w: reading files of %s: %v", common.ErrCatalog, folder.Path, err)
			}
			for j := range files {
				f := &files[j]
				if f.Classification != nil {
					continue
				}
				f.Classification = &model.Classification{CategoryPath: defaultCategory, Source: model.SourceDefault}
				if err := c.Catalog.UpsertFile(ctx, f); err != nil {
					return stats, fmt.Errorf("%w: saving default classification for %s: %v", common.ErrCatalog, f.Path, err)
				}
				stats.FilesClassified++
			}
		}
	}
	return stats, nil
}

// classifyFolder implements spec.md section 4.6's six-step per-folder
// decision, persisting the result back to the catalog.
func (c *Chain) classifyFolder(ctx context.Context, folder *model.FolderRecord) error {
	if folder.IsClassified() {
		return fmt.Errorf("%w: folder %s already classified (action=%s, source=%s)",
			common.ErrInvariantViolation, folder.Path, folder.Action, folder.Source)
	}

	// Step 1-2: parent lookup and keep inheritance.
	if folder.ParentPath != "" {
		parent, err := c.getFolderCached(ctx, folder.ParentPath)
		if err != nil {
			return fmt.Errorf("%w: reading parent %s: %v", common.ErrCatalog, folder.ParentPath, err)
		}
		if parent != nil && parent.Action == model.ActionKeep {
			folder.Action = model.ActionKeep
			folder.Source = model.SourceInherited
			folder.CategoryPath = ""
			return c.saveFolder(ctx, folder)
		}
	}

	// keep_parent marker: a direct file child matching a rule whose
	// folder_action is keep_parent forces this folder to keep without
	// ever consulting the folder-level rule or the AI stage.
	forced, err := c.keepParentMarked(ctx, folder)
	if err != nil {
		return err
	}
	if forced {
		folder.Action = model.ActionKeep
		folder.Source = model.SourceRuleFinal
		folder.CategoryPath = ""
		return c.saveFolder(ctx, folder)
	}

	// Step 4: rules stage.
	var hint model.FolderAction
	if c.Rules != nil {
		match, err := c.Rules.MatchFolder(c.matchPath(folder.Path))
		if err != nil {
			return fmt.Errorf("%w: matching folder rule for %s: %v", common.ErrConfig, folder.Path, err)
		}
		if match != nil && match.Rule.FolderAction != "" && match.Rule.FolderAction != model.ActionUnknown {
			if match.Rule.Mode == model.ModeFinal {
				folder.Action = match.Rule.FolderAction
				folder.Source = model.SourceRuleFinal
				if cat, err := rules.CategoryFor(match); err == nil {
					folder.CategoryPath = cat
				}
				return c.saveFolder(ctx, folder)
			}
			hint = match.Rule.FolderAction
		}
	}

	// Step 5: AI stage.
	if c.AI != nil {
		result, err := c.classifyFolderWithAI(ctx, folder, hint)
		if err == nil {
			folder.Action = result.Decision
			folder.Source = model.SourceAI
			folder.CategoryPath = result.Category
			return c.saveFolder(ctx, folder)
		}
		common.LogInfo("folder_ai_stage_failed", common.Fields{"path": folder.Path, "error": err.Error()})
	}

	// Step 6: default. Source roots default to disaggregate regardless of
	// hint; elsewhere an obvious-project-marker hint (keep) is honored.
	if !c.isSourceRoot(folder.Path) && hint == model.ActionKeep {
		folder.Action = model.ActionKeep
	} else {
		folder.Action = model.ActionDisaggregate
	}
	folder.Source = model.SourceDefault
	folder.CategoryPath = ""
	return c.saveFolder(ctx, folder)
}

func (c *Chain) saveFolder(ctx context.Context, folder *model.FolderRecord) error {
	if err := c.Catalog.UpsertFolder(ctx, folder); err != nil {
		return fmt.Errorf("%w: saving folder decision for %s: %v", common.ErrCatalog, folder.Path, err)
	}
	if c.parentCache != nil {
		c.parentCache.Add(folder.Path, folder)
	}
	return nil
}

// keepParentMarked checks whether any direct file child of folder matches
// a rule whose folder_action is keep_parent.
func (c *Chain) keepParentMarked(ctx context.Context, folder *model.FolderRecord) (bool, error) {
	if c.Rules == nil {
		return false, nil
	}
	files, err := c.Catalog.FilesInFolder(ctx, folder.Path)
	if err != nil {
		return false, fmt.Errorf("%w: reading files of %s: %v", common.ErrCatalog, folder.Path, err)
	}
	for i := range files {
		f := &files[i]
		mime, err := c.ensureMime(ctx, f)
		if err != nil {
			return false, err
		}
		match, err := c.Rules.MatchFile(c.matchPath(f.Path), mime)
		if err != nil {
			return false, fmt.Errorf("%w: matching file rule for %s: %v", common.ErrConfig, f.Path, err)
		}
		if match != nil && match.Rule.FolderAction == model.ActionKeepParent {
			return true, nil
		}
	}
	return false, nil
}

// classifyFolderWithAI assembles the folder's AI request (name, sampled
// children, MIME histogram, rule hint) and calls the AI client.
func (c *Chain) classifyFolderWithAI(ctx context.Context, folder *model.FolderRecord, hint model.FolderAction) (aiclient.FolderResult, error) {
	files, err := c.Catalog.FilesInFolder(ctx, folder.Path)
	if err != nil {
		return aiclient.FolderResult{}, fmt.Errorf("%w: reading files of %s: %v", common.ErrCatalog, folder.Path, err)
	}
	subfolders, err := c.Catalog.FoldersUnderPrefix(ctx, folder.Path)
	if err != nil {
		return aiclient.FolderResult{}, fmt.Errorf("%w: reading subfolders of %s: %v", common.ErrCatalog, folder.Path, err)
	}

	histogram := map[string]int{}
	var children []string
	for i := range files {
		mime, err := c.ensureMime(ctx, &files[i])
		if err != nil {
			return aiclient.FolderResult{}, err
		}
		histogram[mime]++
		children = append(children, path.Base(files[i].Path))
	}
	for i := range subfolders {
		if subfolders[i].ParentPath != folder.Path {
			continue
		}
		children = append(children, path.Base(subfolders[i].Path)+"/")
	}
	sort.Strings(children)
	if len(children) > c.SampleLimit {
		children = children[:c.SampleLimit]
	}

	return c.AI.ClassifyFolder(ctx, aiclient.FolderRequest{
		FolderName:      path.Base(folder.Path),
		SampledChildren: children,
		MimeHistogram:   histogram,
		Hint:            hint,
	})
}

// ensureMime probes and persists a file's MIME type if it hasn't been
// determined yet, per spec.md section 4.2's "invoked at most once per
// file" requirement.
func (c *Chain) ensureMime(ctx context.Context, f *model.FileRecord) (string, error) {
	if f.Mime != "" {
		return f.Mime, nil
	}
	if c.Probe == nil {
		f.Mime = "application/octet-stream"
	} else {
		mime, err := c.Probe.ProbeMIME(ctx, f.Path)
		if err != nil {
			common.LogInfo("probe_mime_failed", common.Fields{"path": f.Path, "error": err.Error()})
			mime = "application/octet-stream"
		}
		f.Mime = mime
	}
	if err := c.Catalog.UpsertFile(ctx, f); err != nil {
		return "", fmt.Errorf("%w: saving probed mime for %s: %v", common.ErrCatalog, f.Path, err)
	}
	return f.Mime, nil
}

// classifyFiles classifies every direct file child of folder now that the
// folder's own action is settled.
func (c *Chain) classifyFiles(ctx context.Context, folder *model.FolderRecord) (classified int, aiCalls int, aiFailures int, err error) {
	files, err := c.Catalog.FilesInFolder(ctx, folder.Path)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: reading files of %s: %v", common.ErrCatalog, folder.Path, err)
	}

	for i := range files {
		f := &files[i]
		if f.Classification != nil {
			return 0, 0, 0, fmt.Errorf("%w: file %s already classified", common.ErrInvariantViolation, f.Path)
		}

		mime, err := c.ensureMime(ctx, f)
		if err != nil {
			return classified, aiCalls, aiFailures, err
		}

		var match *rules.Match
		if c.Rules != nil {
			match, err = c.Rules.MatchFile(c.matchPath(f.Path), mime)
			if err != nil {
				return classified, aiCalls, aiFailures, fmt.Errorf("%w: matching file rule for %s: %v", common.ErrConfig, f.Path, err)
			}
		}

		switch {
		case match != nil && match.Rule.Mode == model.ModeFinal:
			cat, err := rules.CategoryFor(match)
			if err != nil {
				common.LogInfo("file_rule_category_unresolved", common.Fields{"path": f.Path, "error": err.Error()})
				cat = defaultCategory
			}
			f.Classification = &model.Classification{CategoryPath: cat, Source: model.SourceRuleFinal, Confidence: 1}

		case folder.Action == model.ActionDisaggregate && c.AI != nil:
			aiCalls++
			result, err := c.AI.ClassifyFile(ctx, aiclient.FileRequest{
				FileName: path.Base(f.Path),
				Mime:     mime,
				Metadata: f.Metadata,
			})
			if err != nil {
				aiFailures++
				common.LogInfo("file_ai_stage_failed", common.Fields{"path": f.Path, "error": err.Error()})
				f.Classification = &model.Classification{CategoryPath: defaultCategory, Source: model.SourceDefault}
			} else {
				f.Classification = &model.Classification{CategoryPath: result.Category, Source: model.SourceAI, Confidence: result.Confidence}
			}

		case folder.Action == model.ActionDisaggregate:
			f.Classification = &model.Classification{CategoryPath: defaultCategory, Source: model.SourceDefault}

		default:
			f.Classification = &model.Classification{CategoryPath: folder.CategoryPath, Source: model.SourceInherited}
		}

		if err := c.Catalog.UpsertFile(ctx, f); err != nil {
			return classified, aiCalls, aiFailures, fmt.Errorf("%w: saving classification for %s: %v", common.ErrCatalog, f.Path, err)
		}
		classified++
	}

	return classified, aiCalls, aiFailures, nil
}

// isSourceRoot reports whether p was configured as a source root.
func (c *Chain) isSourceRoot(p string) bool {
	return c.SourceRoots[path.Clean(p)]
}
