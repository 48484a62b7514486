package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/exigo-bridge/internal/domain"
)

// SettingsRepo reads per-company integration settings maintained by the
// admin application.
type SettingsRepo struct{ db *sql.DB }

// NewSettingsRepo creates a Postgres-backed settings repository.
func NewSettingsRepo(db *sql.DB) *SettingsRepo { return &SettingsRepo{db: db} }

// GetSettings returns the stored settings and whether a row exists.
// Columns left NULL come back as zero so that WithDefaults can fill them.
func (r *SettingsRepo) GetSettings(ctx context.Context, companyID string) (domain.IntegrationSettings, bool, error) {
	var (
		preferred, retail, keep, limit sql.NullInt64
		delay                          sql.NullFloat64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT preferred_customer_type_id, retail_customer_type_id, api_delay_seconds,
		       snapshots_to_keep, daily_warmup_limit
		FROM exigo_integration_settings
		WHERE company_id = $1
	`, companyID).Scan(&preferred, &retail, &delay, &keep, &limit)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IntegrationSettings{}, false, nil
	}
	if err != nil {
		return domain.IntegrationSettings{}, false, fmt.Errorf("get integration settings: %w", err)
	}

	s := domain.IntegrationSettings{
		PreferredCustomerTypeID: int(preferred.Int64),
		RetailCustomerTypeID:    int(retail.Int64),
		SnapshotsToKeep:         int(keep.Int64),
		DailyWarmupLimit:        int(limit.Int64),
	}
	if delay.Valid {
		s.APIDelay = time.Duration(delay.Float64 * float64(time.Second))
		// A stored zero means "no delay", which WithDefaults spells as negative.
		if s.APIDelay == 0 {
			s.APIDelay = -1
		}
	}
	return s, true, nil
}
