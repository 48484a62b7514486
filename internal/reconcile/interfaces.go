package reconcile

import (
	"context"
	"time"

	"github.com/ignite/exigo-bridge/internal/domain"
)

// AutoshipSource returns every external ID with an active Exigo autoship.
// Implementations return a complete set or an error, never a partial set.
type AutoshipSource interface {
	ActiveAutoshipExternalIDs(ctx context.Context) (domain.IDSet, error)
}

// AutoshipChecker answers the autoship question for one customer.
type AutoshipChecker interface {
	CustomerHasActiveAutoship(ctx context.Context, externalID string) (bool, error)
}

// PlatformGateway is the Fluid side of reconciliation.
type PlatformGateway interface {
	// FindCustomerByExternalID and GetCustomer return nil, nil when no
	// customer matches.
	FindCustomerByExternalID(ctx context.Context, externalID string) (*domain.Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error)
	SetCustomerTier(ctx context.Context, customerID string, tier domain.CustomerType) error
	HasActiveSubscription(ctx context.Context, customerID string) (bool, error)
	HasActiveAutoshipFlag(ctx context.Context, customerID string) (bool, error)
}

// BackOfficeMirror writes the tier back to Exigo. Failures are logged by
// the caller and never abort anything.
type BackOfficeMirror interface {
	SetCustomerTypeID(ctx context.Context, externalID string, typeID int) error
}

// SnapshotStore persists a company's autoship snapshots.
type SnapshotStore interface {
	// LatestSnapshot returns nil, nil when the company has no snapshot.
	LatestSnapshot(ctx context.Context, companyID string) (*domain.AutoshipSnapshot, error)
	SaveSnapshot(ctx context.Context, companyID string, externalIDs []string, capturedAt time.Time) (*domain.AutoshipSnapshot, error)
	// PruneOldest deletes all but the keep most recent snapshots and
	// returns how many were removed.
	PruneOldest(ctx context.Context, companyID string, keep int) (int, error)
}

// AuditStore appends tier transitions.
type AuditStore interface {
	RecordTransition(ctx context.Context, t *domain.CustomerTypeTransition) error
}

// SnapshotArchiver keeps an off-site copy of persisted snapshots.
type SnapshotArchiver interface {
	ArchiveSnapshot(ctx context.Context, snap *domain.AutoshipSnapshot) error
}

// ActiveSet is the shared active-autoship set a page processor reads.
// Members reports membership for each ID, in order.
type ActiveSet interface {
	Members(ctx context.Context, externalIDs []string) ([]bool, error)
}

// StaticActiveSet adapts an in-memory IDSet to ActiveSet.
type StaticActiveSet domain.IDSet

// Members implements ActiveSet.
func (s StaticActiveSet) Members(_ context.Context, externalIDs []string) ([]bool, error) {
	out := make([]bool, len(externalIDs))
	for i, id := range externalIDs {
		out[i] = domain.IDSet(s).Contains(id)
	}
	return out, nil
}
