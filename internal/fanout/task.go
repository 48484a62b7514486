package fanout

import (
	"context"
	"fmt"

	"github.com/ignite/exigo-bridge/internal/domain"
	"github.com/ignite/exigo-bridge/internal/fluid"
	"github.com/ignite/exigo-bridge/internal/reconcile"
)

// PageTask is one unit of fan-out work. It is also the SQS message body.
type PageTask struct {
	RunID     string `json:"run_id"`
	CompanyID string `json:"company_id"`
	SetKey    string `json:"set_key"`
	Page      int    `json:"page"`
	PerPage   int    `json:"per_page"`
}

// CustomerPager lists Fluid customers page by page.
type CustomerPager interface {
	ListCustomers(ctx context.Context, page, perPage int) (fluid.CustomerPage, error)
}

// PageProcessor applies the tier rule to one page.
type PageProcessor interface {
	ProcessPage(ctx context.Context, customers []domain.Customer, active reconcile.ActiveSet) (reconcile.PageResult, error)
}

// PageHandler fetches and processes a single page for one company.
type PageHandler struct {
	pager     CustomerPager
	processor PageProcessor
}

// NewPageHandler pairs a pager with a processor.
func NewPageHandler(pager CustomerPager, processor PageProcessor) *PageHandler {
	return &PageHandler{pager: pager, processor: processor}
}

// Handle runs task against set. An error means the page as a whole did
// not run; per-customer failures are inside the result.
func (h *PageHandler) Handle(ctx context.Context, task PageTask, set reconcile.ActiveSet) (reconcile.PageResult, error) {
	page, err := h.pager.ListCustomers(ctx, task.Page, task.PerPage)
	if err != nil {
		return reconcile.PageResult{}, fmt.Errorf("list customers page %d: %w", task.Page, err)
	}
	return h.processor.ProcessPage(ctx, page.Customers, set)
}
