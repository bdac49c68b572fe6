// Package scanner implements the Scanner: a worker-pool walk of one or
// more source roots that populates the Catalog with FileRecord and
// FolderRecord rows, skipping subtrees the catalog already has a final
// "keep" decision for, and skipping paths an optional .pileupignore
// excludes before they ever reach the Rules Engine.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/latchkey-labs/pileup/internal/common"
	"github.com/latchkey-labs/pileup/internal/model"
	"github.com/latchkey-labs/pileup/internal/service"
)

// Scanner walks one or more source roots via an injected billy.Filesystem,
// so production code walks the real disk through osfs while tests
// substitute an in-memory filesystem.
type Scanner struct {
	FS      billy.Filesystem
	Catalog service.Catalog
	Ignore  *gitignore.GitIgnore // optional, nil means no .pileupignore loaded
	Workers int
}

// New returns a Scanner rooted at the real filesystem.
func New(catalog service.Catalog, workers int) *Scanner {
	if workers <= 0 {
		workers = 8
	}
	return &Scanner{
		FS:      osfs.New("/"),
		Catalog: catalog,
		Workers: workers,
	}
}

// LoadIgnoreFile loads a .pileupignore file (gitignore syntax) from
// sourceRoot, if present. A missing file is not an error; the Scanner
// simply proceeds without an ignore filter for that root.
func (s *Scanner) LoadIgnoreFile(sourceRoot string) error {
	p := path.Join(sourceRoot, ".pileupignore")
	data, err := os.ReadFile(p) //nolint:gosec // path is operator-controlled source root
	if err != nil {
		if os.IsNotExist(err) {
			s.Ignore = nil
			return nil
		}
		return fmt.Errorf("%w: reading %s: %v", common.ErrConfig, p, err)
	}

	lines := strings.Split(string(data), "\n")
	ign := gitignore.CompileIgnoreLines(lines...)
	s.Ignore = ign
	return nil
}

// Result summarizes one Scan call.
type Result struct {
	FilesScanned   int
	FoldersScanned int
	FoldersSkipped int // skipped because an ancestor already carries a final "keep"
}

// walkEntry is one unit of work: a directory to enumerate, at a known
// depth and with a known parent path.
type walkEntry struct {
	path   string
	parent string
	depth  int
}

// Scan walks sourceRoot breadth-first, recording every folder and file it
// finds into the Catalog. A folder already carrying model.ActionKeep in
// the catalog is recorded but its contents are not enumerated — the
// catalog's snapshot is authoritative for restartability, matching
// spec.md section 5's "skip already-keep subtrees" requirement.
func (s *Scanner) Scan(ctx context.Context, sourceRoot string) (Result, error) {
	sourceRoot = path.Clean(sourceRoot)
	var res Result
	var mu sync.Mutex

	queue := []walkEntry{{path: sourceRoot, parent: "", depth: 0}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		batch := queue
		queue = nil

		type dirResult struct {
			entry    walkEntry
			children []walkEntry
			fileErr  error
		}

		workChan := make(chan walkEntry, len(batch))
		for _, e := range batch {
			workChan <- e
		}
		close(workChan)

		resultsChan := make(chan dirResult, len(batch))
		var wg sync.WaitGroup
		workers := s.Workers
		if workers <= 0 {
			workers = 8
		}
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				for e := range workChan {
					children, err := s.scanOneDir(ctx, e, &mu, &res)
					resultsChan <- dirResult{entry: e, children: children, fileErr: err}
				}
			}()
		}
		go func() {
			wg.Wait()
			close(resultsChan)
		}()

		for r := range resultsChan {
			if r.fileErr != nil {
				return res, r.fileErr
			}
			queue = append(queue, r.children...)
		}
	}

	return res, nil
}

// scanOneDir enumerates a single directory: records it as a FolderRecord
// (unless it's already a final keep, in which case it's still recorded
// but not descended into), records each direct file child, and returns
// the subdirectories to continue the walk with.
func (s *Scanner) scanOneDir(ctx context.Context, e walkEntry, mu *sync.Mutex, res *Result) ([]walkEntry, error) {
	existing, err := s.Catalog.GetFolder(ctx, e.path)
	if err != nil {
		return nil, fmt.Errorf("%w: checking existing folder %s: %v", common.ErrCatalog, e.path, err)
	}
	if existing != nil && existing.Action == model.ActionKeep {
		mu.Lock()
		res.FoldersSkipped++
		mu.Unlock()
		return nil, nil
	}

	infos, err := s.FS.ReadDir(e.path)
	if err != nil {
		common.LogDebug("scanner_readdir_failed", common.Fields{"path": e.path, "error": err.Error()})
		return nil, nil
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	var children []walkEntry
	fileCount := 0
	subfolderCount := 0

	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		childPath := path.Join(e.path, info.Name())
		if s.isIgnored(childPath, info.IsDir()) {
			continue
		}

		if info.IsDir() {
			if info.Mode()&os.ModeSymlink != 0 {
				continue // symlinks are never followed, per spec.md section 5
			}
			subfolderCount++
			children = append(children, walkEntry{path: childPath, parent: e.path, depth: e.depth + 1})
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			continue
		}

		fileCount++
		rec := &model.FileRecord{
			Path:       childPath,
			FolderPath: e.path,
			Size:       info.Size(),
			ModTime:    info.ModTime(),
			Metadata:   map[string]string{},
		}
		if err := s.Catalog.UpsertFile(ctx, rec); err != nil {
			return nil, fmt.Errorf("%w: recording file %s: %v", common.ErrCatalog, childPath, err)
		}
		mu.Lock()
		res.FilesScanned++
		mu.Unlock()
	}

	folderRec := &model.FolderRecord{
		Path:           e.path,
		ParentPath:     e.parent,
		Depth:          e.depth,
		FileCount:      fileCount,
		SubfolderCount: subfolderCount,
		Action:         model.ActionUnknown,
		Metadata:       map[string]string{},
	}
	if existing != nil {
		folderRec.Action = existing.Action
		folderRec.Source = existing.Source
		folderRec.CategoryPath = existing.CategoryPath
		folderRec.AggregateHash = existing.AggregateHash
	}
	if err := s.Catalog.UpsertFolder(ctx, folderRec); err != nil {
		return nil, fmt.Errorf("%w: recording folder %s: %v", common.ErrCatalog, e.path, err)
	}

	mu.Lock()
	res.FoldersScanned++
	mu.Unlock()

	return children, nil
}

func (s *Scanner) isIgnored(p string, isDir bool) bool {
	if s.Ignore == nil {
		return false
	}
	if isDir {
		p += "/"
	}
	return s.Ignore.MatchesPath(p)
}
