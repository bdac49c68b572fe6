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

// SaveDuplicateGroup persists a DuplicateGroup, keyed by AggregateHash.
func (s *Store) SaveDuplicateGroup(ctx context.Context, group *model.DuplicateGroup) error {
	membersJSON, err := json.Marshal(group.Members)
	if err != nil {
		return fmt.Errorf("%w: marshaling duplicate group members: %v", common.ErrCatalog, err)
	}

	return s.enqueue(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO duplicate_groups (id, aggregate_hash, canonical_path, members_json)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(aggregate_hash) DO UPDATE SET
				canonical_path=excluded.canonical_path,
				members_json=excluded.members_json`,
			group.ID, group.AggregateHash, group.Canonical, string(membersJSON),
		)
		return err
	})
}

// DuplicateGroupByHash reads a DuplicateGroup by its aggregate hash, or
// nil if none has been recorded yet.
func (s *Store) DuplicateGroupByHash(ctx context.Context, hash string) (*model.DuplicateGroup, error) {
	if err := s.withFreshRead(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, aggregate_hash, canonical_path, members_json FROM duplicate_groups WHERE aggregate_hash = ?`, hash)
	group, err := scanDuplicateGroupRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading duplicate group for hash %s: %v", common.ErrCatalog, hash, err)
	}
	return group, nil
}

// AllDuplicateGroups reads every persisted DuplicateGroup.
func (s *Store) AllDuplicateGroups(ctx context.Context) ([]model.DuplicateGroup, error) {
	if err := s.withFreshRead(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, aggregate_hash, canonical_path, members_json FROM duplicate_groups ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing duplicate groups: %v", common.ErrCatalog, err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.DuplicateGroup
	for rows.Next() {
		group, err := scanDuplicateGroupRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning duplicate group row: %v", common.ErrCatalog, err)
		}
		out = append(out, *group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating duplicate group rows: %v", common.ErrCatalog, err)
	}
	return out, nil
}

func scanDuplicateGroupRow(scan func(...any) error) (*model.DuplicateGroup, error) {
	var group model.DuplicateGroup
	var membersJSON string
	if err := scan(&group.ID, &group.AggregateHash, &group.Canonical, &membersJSON); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(membersJSON), &group.Members)
	return &group, nil
}
