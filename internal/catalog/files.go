package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/latchkey-labs/pileup/internal/common"
	"github.com/latchkey-labs/pileup/internal/model"
)

// UpsertFile queues a FileRecord insert/update, keyed by Path. The write
// is applied on the next batch flush, not synchronously.
func (s *Store) UpsertFile(ctx context.Context, rec *model.FileRecord) error {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("%w: marshaling file metadata for %s: %v", common.ErrCatalog, rec.Path, err)
	}

	var categoryPath, source string
	var confidence float64
	if rec.Classification != nil {
		categoryPath = rec.Classification.CategoryPath
		source = string(rec.Classification.Source)
		confidence = rec.Classification.Confidence
	}

	return s.enqueue(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO files (path, folder_path, mime, content_hash, size, mod_time, metadata_json, category_path, classification_source, confidence, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(path) DO UPDATE SET
				folder_path=excluded.folder_path,
				mime=excluded.mime,
				content_hash=excluded.content_hash,
				size=excluded.size,
				mod_time=excluded.mod_time,
				metadata_json=excluded.metadata_json,
				category_path=excluded.category_path,
				classification_source=excluded.classification_source,
				confidence=excluded.confidence,
				updated_at=CURRENT_TIMESTAMP`,
			rec.Path, rec.FolderPath, rec.Mime, rec.ContentHash, rec.Size, rec.ModTime, string(metaJSON),
			categoryPath, source, confidence,
		)
		return err
	})
}

// GetFile reads a single FileRecord by absolute path, flushing pending
// writes first so it always observes its own writer's prior batches.
func (s *Store) GetFile(ctx context.Context, path string) (*model.FileRecord, error) {
	if err := s.withFreshRead(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT path, folder_path, mime, content_hash, size, mod_time, metadata_json, category_path, classification_source, confidence
		FROM files WHERE path = ?`, path)
	rec, err := scanFileRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading file %s: %v", common.ErrCatalog, path, err)
	}
	return rec, nil
}

// FilesUnderPrefix reads all FileRecords whose path is under prefix.
func (s *Store) FilesUnderPrefix(ctx context.Context, prefix string) ([]model.FileRecord, error) {
	if err := s.withFreshRead(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, folder_path, mime, content_hash, size, mod_time, metadata_json, category_path, classification_source, confidence
		FROM files WHERE path = ? OR path LIKE ? ORDER BY path ASC`, prefix, prefix+"/%")
	if err != nil {
		return nil, fmt.Errorf("%w: listing files under %s: %v", common.ErrCatalog, prefix, err)
	}
	defer func() { _ = rows.Close() }()
	return scanFileRows(rows)
}

// FilesInFolder reads the direct file children of a folder.
func (s *Store) FilesInFolder(ctx context.Context, folderPath string) ([]model.FileRecord, error) {
	if err := s.withFreshRead(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, folder_path, mime, content_hash, size, mod_time, metadata_json, category_path, classification_source, confidence
		FROM files WHERE folder_path = ? ORDER BY path ASC`, folderPath)
	if err != nil {
		return nil, fmt.Errorf("%w: listing files in %s: %v", common.ErrCatalog, folderPath, err)
	}
	defer func() { _ = rows.Close() }()
	return scanFileRows(rows)
}

func scanFileRows(rows *sql.Rows) ([]model.FileRecord, error) {
	var out []model.FileRecord
	for rows.Next() {
		rec, err := scanFileRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning file row: %v", common.ErrCatalog, err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating file rows: %v", common.ErrCatalog, err)
	}
	return out, nil
}

func scanFileRow(scan func(...any) error) (*model.FileRecord, error) {
	var rec model.FileRecord
	var metaJSON sql.NullString
	var categoryPath, source sql.NullString
	var confidence sql.NullFloat64
	var modTime sql.NullTime

	if err := scan(&rec.Path, &rec.FolderPath, &rec.Mime, &rec.ContentHash, &rec.Size, &modTime,
		&metaJSON, &categoryPath, &source, &confidence); err != nil {
		return nil, err
	}

	rec.ModTime = modTime.Time
	rec.Metadata = map[string]string{}
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &rec.Metadata)
	}
	if (categoryPath.Valid && categoryPath.String != "") || (source.Valid && source.String != "") {
		rec.Classification = &model.Classification{
			CategoryPath: categoryPath.String,
			Source:       model.ClassificationSource(source.String),
			Confidence:   confidence.Float64,
		}
	}
	return &rec, nil
}
