package reconcile

import (
	"context"
	"fmt"

	"github.com/ignite/exigo-bridge/internal/domain"
	"github.com/ignite/exigo-bridge/internal/metrics"
	"github.com/ignite/exigo-bridge/internal/pkg/logger"
)

// PageResult counts what happened to one page of customers.
// Processed + Skipped + Failed == Total.
type PageResult struct {
	// Processed is customers whose tier was changed.
	Processed int `json:"processed"`
	// Skipped is customers already on the right tier or with no Exigo ID.
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// Add accumulates r2 into r.
func (r *PageResult) Add(r2 PageResult) {
	r.Processed += r2.Processed
	r.Skipped += r2.Skipped
	r.Failed += r2.Failed
	r.Total += r2.Total
}

// PageProcessor applies the keep/demote rule to pre-paginated customers.
// It is safe for concurrent use when its TierWriter's gateways are.
type PageProcessor struct {
	companyID string
	writer    *TierWriter
	log       *logger.Logger
}

// NewPageProcessor returns a processor that mutates through writer.
func NewPageProcessor(companyID string, writer *TierWriter) *PageProcessor {
	return &PageProcessor{
		companyID: companyID,
		writer:    writer,
		log:       logger.With("component", "page_processor", "company_id", companyID),
	}
}

// ProcessPage decides each customer independently: preferred when the
// shared set shows an active Exigo autoship or Fluid shows its own
// active subscription, retail otherwise. An error is returned only when
// the shared set itself cannot be read.
func (p *PageProcessor) ProcessPage(ctx context.Context, customers []domain.Customer, active ActiveSet) (PageResult, error) {
	res := PageResult{Total: len(customers)}

	ids := make([]string, len(customers))
	for i, c := range customers {
		ids[i] = domain.NormalizeExternalID(c.ExternalID)
	}
	members, err := active.Members(ctx, ids)
	if err != nil {
		metrics.PagesTotal.WithLabelValues(p.companyID, "error").Inc()
		return PageResult{}, fmt.Errorf("read active autoship set: %w", err)
	}

	for i, cust := range customers {
		if err := ctx.Err(); err != nil {
			// Count the rest as failed so totals still add up.
			res.Failed += len(customers) - i
			break
		}
		if ids[i] == "" {
			res.Skipped++
			continue
		}
		cust.ExternalID = ids[i]

		tier := domain.CustomerTypePreferred
		reason := "exigo_autoship_active"
		if !members[i] {
			platformActive, err := p.writer.PlatformActive(ctx, cust.ID)
			if err != nil {
				res.Failed++
				metrics.CustomerFailuresTotal.WithLabelValues(p.companyID, "subscription").Inc()
				p.log.Error("customer page sync failed", "stage", "subscription",
					"customer_id", cust.ID, "external_id", cust.ExternalID, "error", err)
				continue
			}
			if platformActive {
				reason = "fluid_subscription_active"
			} else {
				tier = domain.CustomerTypeRetail
				reason = "no_active_autoship"
			}
		}

		changed, err := p.writer.Apply(ctx, cust, tier, domain.SourceSyncJob, map[string]string{"reason": reason, "mode": "page"})
		if err != nil {
			res.Failed++
			p.log.Error("customer page sync failed", "stage", "tier",
				"customer_id", cust.ID, "external_id", cust.ExternalID, "error", err)
			continue
		}
		if changed {
			res.Processed++
		} else {
			res.Skipped++
		}
	}

	result := "success"
	if res.Failed > 0 {
		result = "partial"
	}
	metrics.PagesTotal.WithLabelValues(p.companyID, result).Inc()
	return res, nil
}
