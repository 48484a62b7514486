package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/exigo-bridge/internal/domain"
)

// TransitionRepo implements reconcile.AuditStore against PostgreSQL.
// The table rejects UPDATEs; rows only leave through retention.
type TransitionRepo struct{ db *sql.DB }

// NewTransitionRepo creates a Postgres-backed audit repository.
func NewTransitionRepo(db *sql.DB) *TransitionRepo { return &TransitionRepo{db: db} }

func (r *TransitionRepo) RecordTransition(ctx context.Context, t *domain.CustomerTypeTransition) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal transition metadata: %w", err)
	}
	var prev sql.NullString
	if t.PreviousType != nil {
		prev = sql.NullString{String: string(*t.PreviousType), Valid: true}
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO customer_type_transitions
			(id, company_id, customer_id, external_id, previous_type, new_type, source, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.CompanyID, t.CustomerID, t.ExternalID, prev, string(t.NewType), string(t.Source), meta, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// ListTransitions returns the newest transitions for a company.
func (r *TransitionRepo) ListTransitions(ctx context.Context, companyID string, limit int) ([]domain.CustomerTypeTransition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, company_id, customer_id, external_id, previous_type, new_type, source, metadata, created_at
		FROM customer_type_transitions
		WHERE company_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []domain.CustomerTypeTransition
	for rows.Next() {
		var (
			t    domain.CustomerTypeTransition
			prev sql.NullString
			meta []byte
		)
		if err := rows.Scan(&t.ID, &t.CompanyID, &t.CustomerID, &t.ExternalID, &prev, &t.NewType, &t.Source, &meta, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if prev.Valid {
			p := domain.CustomerType(prev.String)
			t.PreviousType = &p
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &t.Metadata); err != nil {
				return nil, fmt.Errorf("decode transition metadata: %w", err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes up to batch transitions created before cutoff
// and returns how many were deleted.
func (r *TransitionRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM customer_type_transitions
		WHERE id IN (
			SELECT id FROM customer_type_transitions
			WHERE created_at < $1
			LIMIT $2
		)
	`, cutoff, batch)
	if err != nil {
		return 0, fmt.Errorf("delete old transitions: %w", err)
	}
	return res.RowsAffected()
}
