package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/exigo-bridge/internal/domain"
	"github.com/ignite/exigo-bridge/internal/pkg/logger"
)

// Dry-run decorators. Reads pass through; writes are logged and dropped.

type dryRunPlatform struct {
	PlatformGateway
	log *logger.Logger
}

// DryRunPlatform wraps p so that SetCustomerTier only logs.
func DryRunPlatform(p PlatformGateway) PlatformGateway {
	return &dryRunPlatform{PlatformGateway: p, log: logger.With("component", "dry_run")}
}

func (d *dryRunPlatform) SetCustomerTier(_ context.Context, customerID string, tier domain.CustomerType) error {
	d.log.Info("dry run: would set fluid tier", "customer_id", customerID, "tier", tier)
	return nil
}

type dryRunMirror struct {
	log *logger.Logger
}

// DryRunMirror returns a mirror that only logs.
func DryRunMirror() BackOfficeMirror {
	return &dryRunMirror{log: logger.With("component", "dry_run")}
}

func (d *dryRunMirror) SetCustomerTypeID(_ context.Context, externalID string, typeID int) error {
	d.log.Info("dry run: would set exigo customer type", "external_id", externalID, "type_id", typeID)
	return nil
}

type dryRunAudit struct {
	log *logger.Logger
}

// DryRunAudit returns an audit store that only logs.
func DryRunAudit() AuditStore {
	return &dryRunAudit{log: logger.With("component", "dry_run")}
}

func (d *dryRunAudit) RecordTransition(_ context.Context, t *domain.CustomerTypeTransition) error {
	d.log.Info("dry run: would record transition",
		"customer_id", t.CustomerID, "external_id", t.ExternalID, "new_type", t.NewType, "source", t.Source)
	return nil
}

type dryRunSnapshots struct {
	SnapshotStore
	log *logger.Logger
}

// DryRunSnapshots wraps s so that saves and prunes leave the store alone.
// A dry run therefore never moves the baseline of the next real run.
func DryRunSnapshots(s SnapshotStore) SnapshotStore {
	return &dryRunSnapshots{SnapshotStore: s, log: logger.With("component", "dry_run")}
}

func (d *dryRunSnapshots) SaveSnapshot(_ context.Context, companyID string, externalIDs []string, capturedAt time.Time) (*domain.AutoshipSnapshot, error) {
	d.log.Info("dry run: would save snapshot", "company_id", companyID, "size", len(externalIDs))
	return &domain.AutoshipSnapshot{
		ID:          uuid.NewString(),
		CompanyID:   companyID,
		ExternalIDs: externalIDs,
		CapturedAt:  capturedAt,
	}, nil
}

func (d *dryRunSnapshots) PruneOldest(context.Context, string, int) (int, error) {
	return 0, nil
}
