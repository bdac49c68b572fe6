// Package hasher implements the Hasher: streaming content hashes for
// files and an order-independent aggregate hash for folders, computed
// from the sorted (relative_name, child_hash) pairs of their contents so
// that two folders with identical contents hash identically regardless
// of on-disk enumeration order.
package hasher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/latchkey-labs/pileup/internal/common"
)

// EmptyFolderHash is the fixed sentinel used for a folder with zero
// files and zero subfolders, resolving spec.md's open question the same
// way the original treats an empty folder sample: never worth
// disaggregating.
var EmptyFolderHash = sha256Hex([]byte("pileup:empty-folder"))

// ChildHash is one entry folding into a folder's aggregate hash: a name
// relative to the folder, and that child's own content or aggregate hash.
type ChildHash struct {
	RelativeName string
	Hash         string
}

// Hasher streams file content hashes and folds folder aggregate hashes.
type Hasher struct {
	// BufferSize is the read buffer used per file, default 1MiB.
	BufferSize int
}

// New returns a Hasher with default settings.
func New() *Hasher {
	return &Hasher{BufferSize: 1 << 20}
}

// HashFile streams path's content through SHA-256 and returns the hex
// digest. Returns a wrapped common.ErrProbe-adjacent I/O error on
// failure; callers treat a hashing failure as non-fatal, the same as a
// probe failure, and leave the record's ContentHash empty.
func (h *Hasher) HashFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	sum := sha256.New()
	buf := make([]byte, h.bufSize())

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, readErr := f.Read(buf)
		if n > 0 {
			sum.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("reading %s for hashing: %w", path, readErr)
		}
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// AggregateFolderHash computes a folder's aggregate hash from its
// children's (relative_name, hash) pairs. The pairs are sorted by
// relative name before hashing so the result is independent of
// filesystem enumeration order. An empty slice returns EmptyFolderHash.
func AggregateFolderHash(children []ChildHash) string {
	if len(children) == 0 {
		return EmptyFolderHash
	}

	sorted := make([]ChildHash, len(children))
	copy(sorted, children)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RelativeName < sorted[j].RelativeName })

	sum := sha256.New()
	for _, c := range sorted {
		sum.Write([]byte(path.Clean(c.RelativeName)))
		sum.Write([]byte{0})
		sum.Write([]byte(c.Hash))
		sum.Write([]byte{0})
	}
	return hex.EncodeToString(sum.Sum(nil))
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (h *Hasher) bufSize() int {
	if h.BufferSize <= 0 {
		return 1 << 20
	}
	return h.BufferSize
}

// HashFilesParallel hashes every path in paths using workers goroutines,
// returning a map from path to hex digest. A per-file failure is logged
// and the path is simply omitted from the result, matching the Hasher's
// non-fatal failure contract — the folder aggregate computation below
// treats a missing child hash as the sentinel "unreadable" placeholder.
func (h *Hasher) HashFilesParallel(ctx context.Context, paths []string, workers int) map[string]string {
	if workers <= 0 {
		workers = 4
	}

	type job struct{ path string }
	type result struct {
		path string
		hash string
		err  error
	}

	workChan := make(chan job, len(paths))
	for _, p := range paths {
		workChan <- job{path: p}
	}
	close(workChan)

	resultsChan := make(chan result, len(paths))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := range workChan {
				select {
				case <-ctx.Done():
					resultsChan <- result{path: j.path, err: ctx.Err()}
					continue
				default:
				}
				hash, err := h.HashFile(ctx, j.path)
				resultsChan <- result{path: j.path, hash: hash, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	out := make(map[string]string, len(paths))
	for r := range resultsChan {
		if r.err != nil {
			common.LogDebug("hash_file_failed", common.Fields{"path": r.path, "error": r.err.Error()})
			continue
		}
		out[r.path] = r.hash
	}
	return out
}

// UnreadableChildPlaceholder is folded into a folder's aggregate hash
// input for a child whose content hash could not be computed, so a
// transient I/O failure changes the folder's hash deterministically
// rather than silently treating the child as absent.
const UnreadableChildPlaceholder = "pileup:unreadable"
