package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/latchkey-labs/pileup/internal/common"
	"github.com/latchkey-labs/pileup/internal/model"
	"github.com/latchkey-labs/pileup/internal/service"
)

// UpsertFolder queues a FolderRecord insert/update, keyed by Path.
func (s *Store) UpsertFolder(ctx context.Context, rec *model.FolderRecord) error {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("%w: marshaling folder metadata for %s: %v", common.ErrCatalog, rec.Path, err)
	}

	action := string(rec.Action)
	if action == "" {
		action = string(model.ActionUnknown)
	}

	return s.enqueue(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO folders (path, parent_path, depth, file_count, subfolder_count, aggregate_hash, action, source, category_path, metadata_json, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(path) DO UPDATE SET
				parent_path=excluded.parent_path,
				depth=excluded.depth,
				file_count=excluded.file_count,
				subfolder_count=excluded.subfolder_count,
				aggregate_hash=excluded.aggregate_hash,
				action=excluded.action,
				source=excluded.source,
				category_path=excluded.category_path,
				metadata_json=excluded.metadata_json,
				updated_at=CURRENT_TIMESTAMP`,
			rec.Path, rec.ParentPath, rec.Depth, rec.FileCount, rec.SubfolderCount, rec.AggregateHash,
			action, string(rec.Source), rec.CategoryPath, string(metaJSON),
		)
		return err
	})
}

// GetFolder reads a single FolderRecord by absolute path.
func (s *Store) GetFolder(ctx context.Context, path string) (*model.FolderRecord, error) {
	if err := s.withFreshRead(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT path, parent_path, depth, file_count, subfolder_count, aggregate_hash, action, source, category_path, metadata_json
		FROM folders WHERE path = ?`, path)
	rec, err := scanFolderRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading folder %s: %v", common.ErrCatalog, path, err)
	}
	return rec, nil
}

// FoldersByDepthRange reads all FolderRecords whose Depth falls in r,
// sorted by path ascending within a depth band, feeding the classifier
// chain's depth-ascending sweep.
func (s *Store) FoldersByDepthRange(ctx context.Context, r service.FolderDepthRange) ([]model.FolderRecord, error) {
	if err := s.withFreshRead(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, parent_path, depth, file_count, subfolder_count, aggregate_hash, action, source, category_path, metadata_json
		FROM folders WHERE depth >= ? AND depth <= ? ORDER BY depth ASC, path ASC`, r.Min, r.Max)
	if err != nil {
		return nil, fmt.Errorf("%w: listing folders in depth range [%d,%d]: %v", common.ErrCatalog, r.Min, r.Max, err)
	}
	defer func() { _ = rows.Close() }()
	return scanFolderRows(rows)
}

// FoldersUnderPrefix reads all FolderRecords whose path is under prefix.
func (s *Store) FoldersUnderPrefix(ctx context.Context, prefix string) ([]model.FolderRecord, error) {
	if err := s.withFreshRead(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, parent_path, depth, file_count, subfolder_count, aggregate_hash, action, source, category_path, metadata_json
		FROM folders WHERE path = ? OR path LIKE ? ORDER BY depth ASC, path ASC`, prefix, prefix+"/%")
	if err != nil {
		return nil, fmt.Errorf("%w: listing folders under %s: %v", common.ErrCatalog, prefix, err)
	}
	defer func() { _ = rows.Close() }()
	return scanFolderRows(rows)
}

// MaxDepth reports the deepest FolderRecord currently stored, or -1 if
// the catalog has no folders yet.
func (s *Store) MaxDepth(ctx context.Context) (int, error) {
	if err := s.withFreshRead(ctx); err != nil {
		return 0, err
	}
	var maxDepth sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(depth) FROM folders`).Scan(&maxDepth); err != nil {
		return 0, fmt.Errorf("%w: reading max folder depth: %v", common.ErrCatalog, err)
	}
	if !maxDepth.Valid {
		return -1, nil
	}
	return int(maxDepth.Int64), nil
}

func scanFolderRows(rows *sql.Rows) ([]model.FolderRecord, error) {
	var out []model.FolderRecord
	for rows.Next() {
		rec, err := scanFolderRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning folder row: %v", common.ErrCatalog, err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating folder rows: %v", common.ErrCatalog, err)
	}
	return out, nil
}

func scanFolderRow(scan func(...any) error) (*model.FolderRecord, error) {
	var rec model.FolderRecord
	var action, source, categoryPath sql.NullString
	var aggregateHash, metaJSON sql.NullString

	if err := scan(&rec.Path, &rec.ParentPath, &rec.Depth, &rec.FileCount, &rec.SubfolderCount,
		&aggregateHash, &action, &source, &categoryPath, &metaJSON); err != nil {
		return nil, err
	}

	rec.AggregateHash = aggregateHash.String
	rec.Action = model.FolderAction(action.String)
	rec.Source = model.ClassificationSource(source.String)
	rec.CategoryPath = categoryPath.String
	rec.Metadata = map[string]string{}
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &rec.Metadata)
	}
	return &rec, nil
}
