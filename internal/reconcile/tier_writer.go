package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/exigo-bridge/internal/domain"
	"github.com/ignite/exigo-bridge/internal/metrics"
	"github.com/ignite/exigo-bridge/internal/pkg/logger"
)

// TierWriter applies tier changes for one company. Every flow that
// mutates a tier (sync, pages, webhooks, callbacks, manual overrides)
// goes through Apply so that throttling, mirroring and auditing stay
// identical.
type TierWriter struct {
	companyID string
	settings  domain.IntegrationSettings
	platform  PlatformGateway
	mirror    BackOfficeMirror
	audit     AuditStore
	throttle  *Throttle
	now       func() time.Time
	log       *logger.Logger
}

// NewTierWriter builds a writer. mirror may be nil.
func NewTierWriter(companyID string, settings domain.IntegrationSettings, platform PlatformGateway, mirror BackOfficeMirror, audit AuditStore) *TierWriter {
	return &TierWriter{
		companyID: companyID,
		settings:  settings,
		platform:  platform,
		mirror:    mirror,
		audit:     audit,
		throttle:  NewThrottle(settings.APIDelay),
		now:       time.Now,
		log:       logger.With("component", "tier_writer", "company_id", companyID),
	}
}

// Apply moves cust to tier. A customer already on tier is left alone and
// Apply returns false without writing an audit row. Only the platform
// mutation can fail the call; mirror and audit failures are logged.
func (w *TierWriter) Apply(ctx context.Context, cust domain.Customer, tier domain.CustomerType, source domain.TransitionSource, metadata map[string]string) (bool, error) {
	if !tier.Valid() {
		return false, fmt.Errorf("apply tier: invalid tier %q", tier)
	}
	if cust.CurrentType == tier {
		return false, nil
	}

	if err := w.throttle.Wait(ctx); err != nil {
		return false, err
	}
	if err := w.platform.SetCustomerTier(ctx, cust.ID, tier); err != nil {
		metrics.CustomerFailuresTotal.WithLabelValues(w.companyID, "tier").Inc()
		return false, fmt.Errorf("set tier %s for customer %s: %w", tier, cust.ID, err)
	}

	typeID := w.settings.TypeIDFor(tier)
	if w.mirror != nil && cust.ExternalID != "" {
		if err := w.mirror.SetCustomerTypeID(ctx, cust.ExternalID, typeID); err != nil {
			metrics.CustomerFailuresTotal.WithLabelValues(w.companyID, "mirror").Inc()
			w.log.Warn("exigo mirror failed, platform tier stands",
				"customer_id", cust.ID, "external_id", cust.ExternalID, "type_id", typeID, "error", err)
		}
	}

	meta := map[string]string{"exigo_customer_type_id": strconv.Itoa(typeID)}
	for k, v := range metadata {
		meta[k] = v
	}
	t := &domain.CustomerTypeTransition{
		ID:         uuid.NewString(),
		CompanyID:  w.companyID,
		CustomerID: cust.ID,
		ExternalID: cust.ExternalID,
		NewType:    tier,
		Source:     source,
		Metadata:   meta,
		CreatedAt:  w.now().UTC(),
	}
	if cust.CurrentType.Valid() {
		prev := cust.CurrentType
		t.PreviousType = &prev
	}
	if err := w.audit.RecordTransition(ctx, t); err != nil {
		metrics.CustomerFailuresTotal.WithLabelValues(w.companyID, "audit").Inc()
		w.log.Error("failed to record tier transition",
			"customer_id", cust.ID, "external_id", cust.ExternalID, "new_type", tier, "error", err)
	}

	metrics.TierChangesTotal.WithLabelValues(w.companyID, string(tier), string(source)).Inc()
	w.log.Info("tier changed",
		"customer_id", cust.ID, "external_id", cust.ExternalID,
		"previous_type", cust.CurrentType, "new_type", tier, "source", source)
	return true, nil
}

// PlatformActive reports whether Fluid itself shows an active
// subscription or autoship for the customer.
func (w *TierWriter) PlatformActive(ctx context.Context, customerID string) (bool, error) {
	active, err := w.platform.HasActiveSubscription(ctx, customerID)
	if err != nil {
		return false, fmt.Errorf("subscription lookup: %w", err)
	}
	if active {
		return true, nil
	}
	active, err = w.platform.HasActiveAutoshipFlag(ctx, customerID)
	if err != nil {
		return false, fmt.Errorf("autoship flag lookup: %w", err)
	}
	return active, nil
}
