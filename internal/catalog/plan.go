package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/latchkey-labs/pileup/internal/common"
	"github.com/latchkey-labs/pileup/internal/model"
)

// SavePlanEntries replaces the full plan with entries, matching the
// Planner's "a plan run is a full, deterministic recomputation" contract.
func (s *Store) SavePlanEntries(ctx context.Context, entries []model.PlanEntry) error {
	return s.enqueue(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM plan_entries`); err != nil {
			return err
		}
		stmt, err := tx.Prepare(`
			INSERT INTO plan_entries (id, source_path, target_path, operation, duplicate_of, originating_source)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, e.ID, e.SourcePath, e.TargetPath, string(e.Operation), e.DuplicateOf, string(e.OriginatingSource)); err != nil {
				return err
			}
		}
		return nil
	})
}

// AllPlanEntries reads the full plan, sorted by source path ascending.
func (s *Store) AllPlanEntries(ctx context.Context) ([]model.PlanEntry, error) {
	if err := s.withFreshRead(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_path, target_path, operation, duplicate_of, originating_source
		FROM plan_entries ORDER BY source_path ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing plan entries: %v", common.ErrCatalog, err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.PlanEntry
	for rows.Next() {
		var e model.PlanEntry
		var op string
		var dupOf, origin sql.NullString
		if err := rows.Scan(&e.ID, &e.SourcePath, &e.TargetPath, &op, &dupOf, &origin); err != nil {
			return nil, fmt.Errorf("%w: scanning plan entry row: %v", common.ErrCatalog, err)
		}
		e.Operation = model.PlanOperation(op)
		e.DuplicateOf = dupOf.String
		e.OriginatingSource = model.ClassificationSource(origin.String)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating plan entry rows: %v", common.ErrCatalog, err)
	}
	return out, nil
}
