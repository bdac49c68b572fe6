// Package service defines the interfaces the pipeline stages consume,
// mirroring the storage/classifier contracts the rest of the engine is
// written against.
package service

import (
	"context"
	"time"

	"github.com/latchkey-labs/pileup/internal/model"
)

// FolderDepthRange bounds a catalog read by depth, inclusive on both ends.
type FolderDepthRange struct {
	Min int
	Max int
}

// Catalog is the durable key-addressed store the pipeline shares. A single
// writer batches mutations; readers see a consistent snapshot as of the
// last committed batch.
type Catalog interface {
	// UpsertFile inserts or updates a FileRecord, keyed by Path.
	UpsertFile(ctx context.Context, rec *model.FileRecord) error
	// GetFile reads a single FileRecord by absolute path.
	GetFile(ctx context.Context, path string) (*model.FileRecord, error)
	// FilesUnderPrefix reads all FileRecords whose path is under prefix.
	FilesUnderPrefix(ctx context.Context, prefix string) ([]model.FileRecord, error)
	// FilesInFolder reads the direct file children of a folder.
	FilesInFolder(ctx context.Context, folderPath string) ([]model.FileRecord, error)

	// UpsertFolder inserts or updates a FolderRecord, keyed by Path.
	UpsertFolder(ctx context.Context, rec *model.FolderRecord) error
	// GetFolder reads a single FolderRecord by absolute path.
	GetFolder(ctx context.Context, path string) (*model.FolderRecord, error)
	// FoldersByDepthRange reads all FolderRecords whose Depth falls in r,
	// sorted by path ascending within a depth band.
	FoldersByDepthRange(ctx context.Context, r FolderDepthRange) ([]model.FolderRecord, error)
	// FoldersUnderPrefix reads all FolderRecords whose path is under prefix.
	FoldersUnderPrefix(ctx context.Context, prefix string) ([]model.FolderRecord, error)
	// MaxDepth reports the deepest FolderRecord currently stored.
	MaxDepth(ctx context.Context) (int, error)

	// SaveDuplicateGroup persists a DuplicateGroup, keyed by AggregateHash.
	SaveDuplicateGroup(ctx context.Context, group *model.DuplicateGroup) error
	// DuplicateGroupByHash reads a DuplicateGroup by its aggregate hash, if any.
	DuplicateGroupByHash(ctx context.Context, hash string) (*model.DuplicateGroup, error)
	// AllDuplicateGroups reads every persisted DuplicateGroup.
	AllDuplicateGroups(ctx context.Context) ([]model.DuplicateGroup, error)

	// SavePlanEntries replaces any prior plan with the given PlanEntry rows.
	SavePlanEntries(ctx context.Context, entries []model.PlanEntry) error
	// AllPlanEntries reads the full plan, sorted by source path ascending.
	AllPlanEntries(ctx context.Context) ([]model.PlanEntry, error)

	// Migrate brings the catalog schema up to the expected version,
	// failing hard on an incompatible existing schema.
	Migrate(ctx context.Context) error
	// Close flushes the writer queue and releases the catalog's resources.
	Close() error
}

// RetryOptions configures the exponential backoff retry helper in
// internal/common (common.WithRetry).
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// MetadataProbe is the capability-set interface the core depends on for
// physical content extraction. Implementations wrap external tools; a
// failure on any single method is non-fatal.
type MetadataProbe interface {
	// ProbeMIME returns the MIME type of path, or "application/octet-stream"
	// on failure.
	ProbeMIME(ctx context.Context, path string) (string, error)
	// ProbeEXIF returns EXIF fields for path, or an empty map on failure
	// or when the file has no EXIF data.
	ProbeEXIF(ctx context.Context, path string) (map[string]string, error)
	// ProbeDocHead returns up to limit bytes of extracted document text
	// from the head of path, or an empty string on failure.
	ProbeDocHead(ctx context.Context, path string, limit int) (string, error)
}
