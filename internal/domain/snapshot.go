package domain

import "time"

// AutoshipSnapshot is the set of external IDs that had an active autoship in
// the back office when a sync run completed. Snapshots are immutable.
type AutoshipSnapshot struct {
	ID          string    `json:"id" db:"id"`
	CompanyID   string    `json:"company_id" db:"company_id"`
	ExternalIDs []string  `json:"external_ids" db:"external_ids"`
	CapturedAt  time.Time `json:"captured_at" db:"captured_at"`
}

// IDSet returns the snapshot's IDs as a normalized set.
func (s *AutoshipSnapshot) IDSet() IDSet {
	if s == nil {
		return NewIDSet()
	}
	return NewIDSet(s.ExternalIDs...)
}

// SnapshotSummary is a snapshot without its ID payload, for listings.
type SnapshotSummary struct {
	ID         string    `json:"id"`
	CompanyID  string    `json:"company_id"`
	Size       int       `json:"size"`
	CapturedAt time.Time `json:"captured_at"`
}
