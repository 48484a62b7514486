package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/exigo-bridge/internal/domain"
)

// SnapshotRepo implements reconcile.SnapshotStore against PostgreSQL.
// IDs are stored as a TEXT[] per snapshot row.
type SnapshotRepo struct{ db *sql.DB }

// NewSnapshotRepo creates a Postgres-backed snapshot repository.
func NewSnapshotRepo(db *sql.DB) *SnapshotRepo { return &SnapshotRepo{db: db} }

func (r *SnapshotRepo) LatestSnapshot(ctx context.Context, companyID string) (*domain.AutoshipSnapshot, error) {
	var s domain.AutoshipSnapshot
	err := r.db.QueryRowContext(ctx, `
		SELECT id, company_id, external_ids, captured_at
		FROM exigo_autoship_snapshots
		WHERE company_id = $1
		ORDER BY captured_at DESC
		LIMIT 1
	`, companyID).Scan(&s.ID, &s.CompanyID, pq.Array(&s.ExternalIDs), &s.CapturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return &s, nil
}

func (r *SnapshotRepo) SaveSnapshot(ctx context.Context, companyID string, externalIDs []string, capturedAt time.Time) (*domain.AutoshipSnapshot, error) {
	s := &domain.AutoshipSnapshot{
		ID:          uuid.New().String(),
		CompanyID:   companyID,
		ExternalIDs: externalIDs,
		CapturedAt:  capturedAt,
	}
	if s.ExternalIDs == nil {
		s.ExternalIDs = []string{}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exigo_autoship_snapshots (id, company_id, external_ids, id_count, captured_at)
		VALUES ($1, $2, $3, $4, $5)
	`, s.ID, s.CompanyID, pq.Array(s.ExternalIDs), len(s.ExternalIDs), s.CapturedAt)
	if err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	return s, nil
}

func (r *SnapshotRepo) PruneOldest(ctx context.Context, companyID string, keep int) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM exigo_autoship_snapshots
		WHERE company_id = $1
		  AND id NOT IN (
			SELECT id FROM exigo_autoship_snapshots
			WHERE company_id = $1
			ORDER BY captured_at DESC
			LIMIT $2
		  )
	`, companyID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListSnapshots returns snapshot metadata, newest first, without ID payloads.
func (r *SnapshotRepo) ListSnapshots(ctx context.Context, companyID string, limit int) ([]domain.SnapshotSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, company_id, id_count, captured_at
		FROM exigo_autoship_snapshots
		WHERE company_id = $1
		ORDER BY captured_at DESC
		LIMIT $2
	`, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.SnapshotSummary
	for rows.Next() {
		var s domain.SnapshotSummary
		if err := rows.Scan(&s.ID, &s.CompanyID, &s.Size, &s.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
