package reconcile

import (
	"context"
	"fmt"

	"github.com/ignite/exigo-bridge/internal/domain"
	"github.com/ignite/exigo-bridge/internal/pkg/logger"
)

// SubscriptionEvent is a Fluid subscription lifecycle change.
type SubscriptionEvent struct {
	Name           string
	SubscriptionID string
	CustomerID     string
	// Activated is true for started/reactivated, false for cancelled/paused.
	Activated bool
}

// TierDecision is the result of a single-customer tier decision.
type TierDecision struct {
	CustomerID string              `json:"customer_id"`
	ExternalID string              `json:"external_id,omitempty"`
	Tier       domain.CustomerType `json:"customer_type"`
	Changed    bool                `json:"changed"`
	Reason     string              `json:"reason"`
}

// Preferred reports whether the decided tier is preferred.
func (d TierDecision) Preferred() bool { return d.Tier == domain.CustomerTypePreferred }

// TierService makes single-customer tier decisions outside the batch
// sync: Fluid webhooks, the cart-pricing callback, and admin overrides.
type TierService struct {
	companyID string
	writer    *TierWriter
	platform  PlatformGateway
	autoship  AutoshipChecker
	log       *logger.Logger
}

// NewTierService builds a service. autoship may be nil, in which case
// only Fluid's own signals count.
func NewTierService(companyID string, writer *TierWriter, platform PlatformGateway, autoship AutoshipChecker) *TierService {
	return &TierService{
		companyID: companyID,
		writer:    writer,
		platform:  platform,
		autoship:  autoship,
		log:       logger.With("component", "tier_service", "company_id", companyID),
	}
}

func (s *TierService) customer(ctx context.Context, customerID string) (*domain.Customer, error) {
	cust, err := s.platform.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("get customer %s: %w", customerID, err)
	}
	if cust == nil {
		return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
	}
	return cust, nil
}

// desiredTier applies the OR rule: preferred while either Exigo or Fluid
// shows an active autoship or subscription.
func (s *TierService) desiredTier(ctx context.Context, cust *domain.Customer) (domain.CustomerType, string, error) {
	if s.autoship != nil && cust.ExternalID != "" {
		active, err := s.autoship.CustomerHasActiveAutoship(ctx, cust.ExternalID)
		if err != nil {
			return "", "", fmt.Errorf("exigo autoship lookup: %w", err)
		}
		if active {
			return domain.CustomerTypePreferred, "exigo_autoship_active", nil
		}
	}
	active, err := s.writer.PlatformActive(ctx, cust.ID)
	if err != nil {
		return "", "", err
	}
	if active {
		return domain.CustomerTypePreferred, "fluid_subscription_active", nil
	}
	return domain.CustomerTypeRetail, "no_active_autoship", nil
}

func (s *TierService) apply(ctx context.Context, cust *domain.Customer, tier domain.CustomerType, reason string, source domain.TransitionSource, meta map[string]string) (TierDecision, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	meta["reason"] = reason
	changed, err := s.writer.Apply(ctx, *cust, tier, source, meta)
	if err != nil {
		return TierDecision{}, err
	}
	return TierDecision{
		CustomerID: cust.ID,
		ExternalID: cust.ExternalID,
		Tier:       tier,
		Changed:    changed,
		Reason:     reason,
	}, nil
}

// HandleSubscriptionEvent promotes on activation. On cancellation or
// pause it demotes only if neither Exigo nor another Fluid subscription
// still shows the customer as active.
func (s *TierService) HandleSubscriptionEvent(ctx context.Context, ev SubscriptionEvent) (TierDecision, error) {
	cust, err := s.customer(ctx, ev.CustomerID)
	if err != nil {
		return TierDecision{}, err
	}
	meta := map[string]string{"event": ev.Name}
	if ev.SubscriptionID != "" {
		meta["subscription_id"] = ev.SubscriptionID
	}

	tier, reason := domain.CustomerTypePreferred, "fluid_subscription_started"
	if !ev.Activated {
		tier, reason, err = s.desiredTier(ctx, cust)
		if err != nil {
			return TierDecision{}, err
		}
	}
	d, err := s.apply(ctx, cust, tier, reason, domain.SourceWebhook, meta)
	if err != nil {
		return TierDecision{}, err
	}
	s.log.Info("subscription event handled", "event", ev.Name, "customer_id", cust.ID,
		"customer_type", d.Tier, "changed", d.Changed)
	return d, nil
}

// ResolveTier answers "is this customer preferred" for the cart-pricing
// callback and corrects a stale tag on the way.
func (s *TierService) ResolveTier(ctx context.Context, customerID string) (TierDecision, error) {
	cust, err := s.customer(ctx, customerID)
	if err != nil {
		return TierDecision{}, err
	}
	tier, reason, err := s.desiredTier(ctx, cust)
	if err != nil {
		return TierDecision{}, err
	}
	return s.apply(ctx, cust, tier, reason, domain.SourceCallback, nil)
}

// Override sets a tier by hand. actor is recorded in the audit metadata.
func (s *TierService) Override(ctx context.Context, customerID string, tier domain.CustomerType, actor string) (TierDecision, error) {
	if !tier.Valid() {
		return TierDecision{}, fmt.Errorf("invalid customer type %q", tier)
	}
	cust, err := s.customer(ctx, customerID)
	if err != nil {
		return TierDecision{}, err
	}
	meta := map[string]string{}
	if actor != "" {
		meta["actor"] = actor
	}
	return s.apply(ctx, cust, tier, "manual_override", domain.SourceManual, meta)
}
