// Package orchestrator is the modal driver tying the pipeline stages
// together: scan, hash, classify, plan, or all four in sequence, per
// spec.md section 6's MODE selector.
package orchestrator

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/latchkey-labs/pileup/internal/aiclient"
	"github.com/latchkey-labs/pileup/internal/catalog"
	"github.com/latchkey-labs/pileup/internal/classifier"
	"github.com/latchkey-labs/pileup/internal/common"
	"github.com/latchkey-labs/pileup/internal/config"
	"github.com/latchkey-labs/pileup/internal/hasher"
	"github.com/latchkey-labs/pileup/internal/model"
	"github.com/latchkey-labs/pileup/internal/planner"
	"github.com/latchkey-labs/pileup/internal/probe"
	"github.com/latchkey-labs/pileup/internal/rules"
	"github.com/latchkey-labs/pileup/internal/scanner"
	"github.com/latchkey-labs/pileup/internal/service"
)

// Result summarizes one run across whichever stages were driven.
type Result struct {
	Scan       scanner.Result
	Hashed     int
	Classified classifier.Stats
	Planned    int
}

// Orchestrator wires the Catalog, Rules Engine, Probe, AI Client, and
// per-stage workers per the pipeline's configuration, and drives
// whichever modes the caller asks for.
type Orchestrator struct {
	Config       config.Config
	Catalog      service.Catalog
	Rules        *rules.Engine
	Probe        service.MetadataProbe
	AI           aiclient.Client
	WrapperRegex *regexp.Regexp
}

// New builds an Orchestrator, opening the catalog and loading the rules
// and categories files. The caller owns calling Close when done.
func New(cfg config.Config) (*Orchestrator, error) {
	cat, err := catalog.Open(cfg.CatalogPath, catalog.Options{BatchSize: cfg.CatalogBatchSize})
	if err != nil {
		return nil, err
	}
	if err := cat.Migrate(context.Background()); err != nil {
		_ = cat.Close()
		return nil, err
	}

	engine := rules.New(cfg.FolderSampleLimit)
	if cfg.RulesPath != "" {
		if err := engine.LoadFile(cfg.RulesPath); err != nil {
			_ = cat.Close()
			return nil, err
		}
	}
	if cfg.CategoriesPath != "" {
		if err := engine.LoadCategoriesFile(cfg.CategoriesPath); err != nil {
			_ = cat.Close()
			return nil, err
		}
	}

	aiClient, err := aiclient.NewFromConfig(cfg)
	if err != nil {
		_ = cat.Close()
		return nil, err
	}

	var wrapperRegex *regexp.Regexp
	if cfg.SourceWrapperRegex != "" {
		wrapperRegex, err = regexp.Compile(cfg.SourceWrapperRegex)
		if err != nil {
			_ = cat.Close()
			return nil, fmt.Errorf("%w: compiling source_wrapper_regex %q: %v", common.ErrConfig, cfg.SourceWrapperRegex, err)
		}
	}

	return &Orchestrator{
		Config:       cfg,
		Catalog:      cat,
		Rules:        engine,
		Probe:        probe.New(),
		AI:           aiClient,
		WrapperRegex: wrapperRegex,
	}, nil
}

// Close releases the catalog's resources.
func (o *Orchestrator) Close() error {
	return o.Catalog.Close()
}

// RunMode drives the stages implied by cfg.Mode: scan/hash/classify/plan
// run that one stage alone, all runs every stage in sequence.
func (o *Orchestrator) RunMode(ctx context.Context) (Result, error) {
	var res Result

	runScan := o.Config.Mode == config.ModeScan || o.Config.Mode == config.ModeAll
	runHash := o.Config.Mode == config.ModeHash || o.Config.Mode == config.ModeAll
	runClassify := o.Config.Mode == config.ModeClassify || o.Config.Mode == config.ModeAll
	runPlan := o.Config.Mode == config.ModePlan || o.Config.Mode == config.ModeAll

	if runScan {
		sres, err := o.runScan(ctx)
		if err != nil {
			return res, err
		}
		res.Scan = sres
	}
	if runHash {
		n, err := o.runHash(ctx)
		if err != nil {
			return res, err
		}
		res.Hashed = n
	}
	if runClassify {
		stats, err := o.runClassify(ctx)
		if err != nil {
			return res, err
		}
		res.Classified = stats
	}
	if runPlan {
		entries, err := o.runPlan(ctx)
		if err != nil {
			return res, err
		}
		res.Planned = len(entries)
	}

	return res, nil
}

func (o *Orchestrator) runScan(ctx context.Context) (scanner.Result, error) {
	var total scanner.Result
	sc := scanner.New(o.Catalog, o.Config.ScanWorkers)

	for _, root := range o.Config.SourceRoots {
		if err := sc.LoadIgnoreFile(root); err != nil {
			return total, err
		}
		r, err := sc.Scan(ctx, root)
		if err != nil {
			return total, err
		}
		total.FilesScanned += r.FilesScanned
		total.FoldersScanned += r.FoldersScanned
		total.FoldersSkipped += r.FoldersSkipped
	}
	return total, nil
}

func (o *Orchestrator) runHash(ctx context.Context) (int, error) {
	h := hasher.New()

	files, err := o.Catalog.FilesUnderPrefix(ctx, "/")
	if err != nil {
		return 0, fmt.Errorf("%w: reading files for hashing: %v", common.ErrCatalog, err)
	}
	paths := make([]string, 0, len(files))
	byPath := make(map[string]*model.FileRecord, len(files))
	for i := range files {
		if files[i].ContentHash != "" {
			continue
		}
		paths = append(paths, files[i].Path)
		byPath[files[i].Path] = &files[i]
	}

	hashes := h.HashFilesParallel(ctx, paths, o.Config.HashWorkers)
	for p, sum := range hashes {
		rec := byPath[p]
		rec.ContentHash = sum
		if err := o.Catalog.UpsertFile(ctx, rec); err != nil {
			return 0, fmt.Errorf("%w: saving hash for %s: %v", common.ErrCatalog, p, err)
		}
	}

	if err := o.hashFolders(ctx); err != nil {
		return len(hashes), err
	}
	return len(hashes), nil
}

// hashFolders computes aggregate folder hashes bottom-up (deepest first)
// so every child's hash is known before its parent's is computed.
func (o *Orchestrator) hashFolders(ctx context.Context) error {
	maxDepth, err := o.Catalog.MaxDepth(ctx)
	if err != nil {
		return fmt.Errorf("%w: reading max depth for hashing: %v", common.ErrCatalog, err)
	}

	childHashes := map[string][]hasher.ChildHash{}

	for depth := maxDepth; depth >= 0; depth-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		folders, err := o.Catalog.FoldersByDepthRange(ctx, service.FolderDepthRange{Min: depth, Max: depth})
		if err != nil {
			return fmt.Errorf("%w: reading folders at depth %d: %v", common.ErrCatalog, depth, err)
		}

		for i := range folders {
			f := &folders[i]
			files, err := o.Catalog.FilesInFolder(ctx, f.Path)
			if err != nil {
				return fmt.Errorf("%w: reading files of %s for hashing: %v", common.ErrCatalog, f.Path, err)
			}
			children := childHashes[f.Path]
			for j := range files {
				sum := files[j].ContentHash
				if sum == "" {
					sum = hasher.UnreadableChildPlaceholder
				}
				children = append(children, hasher.ChildHash{RelativeName: path.Base(files[j].Path), Hash: sum})
			}
			f.AggregateHash = hasher.AggregateFolderHash(children)
			if err := o.Catalog.UpsertFolder(ctx, f); err != nil {
				return fmt.Errorf("%w: saving aggregate hash for %s: %v", common.ErrCatalog, f.Path, err)
			}
			if f.ParentPath != "" {
				childHashes[f.ParentPath] = append(childHashes[f.ParentPath], hasher.ChildHash{RelativeName: path.Base(f.Path), Hash: f.AggregateHash})
			}
		}
	}
	return nil
}

func (o *Orchestrator) runClassify(ctx context.Context) (classifier.Stats, error) {
	chain := classifier.New(o.Rules, o.AI, o.Catalog, o.Probe, o.Config.FolderSampleLimit, o.Config.SourceRoots).
		WithWrapperRegex(o.WrapperRegex)

	if o.Config.ClassifyBudgetSeconds > 0 {
		budget := time.Duration(o.Config.ClassifyBudgetSeconds) * time.Second
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	return chain.Run(ctx)
}

func (o *Orchestrator) runPlan(ctx context.Context) ([]model.PlanEntry, error) {
	return planner.New(o.Catalog).Run(ctx)
}
