package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/exigo-bridge/internal/domain"
	"github.com/ignite/exigo-bridge/internal/fluid"
	"github.com/ignite/exigo-bridge/internal/pkg/distlock"
	"github.com/ignite/exigo-bridge/internal/pkg/httputil"
	"github.com/ignite/exigo-bridge/internal/pkg/logger"
	"github.com/ignite/exigo-bridge/internal/reconcile"
	"github.com/ignite/exigo-bridge/internal/tenant"
	"github.com/ignite/exigo-bridge/internal/worker"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	deps Deps
}

func (h *handlers) company(w http.ResponseWriter, r *http.Request) (*tenant.Company, bool) {
	id := chi.URLParam(r, "companyID")
	c, ok := h.deps.Companies.Get(id)
	if !ok {
		httputil.NotFound(w, "unknown company")
		return nil, false
	}
	return c, true
}

// signedBody reads the body and checks its Fluid signature.
func signedBody(w http.ResponseWriter, r *http.Request, c *tenant.Company) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httputil.BadRequest(w, "unreadable body")
		return nil, false
	}
	if err := fluid.VerifySignature(c.WebhookSecret, body, r.Header.Get(fluid.SignatureHeader)); err != nil {
		logger.Warn("rejected unsigned fluid request", "company_id", c.ID, "path", r.URL.Path)
		httputil.Unauthorized(w, "invalid signature")
		return nil, false
	}
	return body, true
}

// fluidWebhook handles subscription lifecycle events.
//
//	POST /webhooks/fluid/{companyID}
func (h *handlers) fluidWebhook(w http.ResponseWriter, r *http.Request) {
	c, ok := h.company(w, r)
	if !ok {
		return
	}
	body, ok := signedBody(w, r, c)
	if !ok {
		return
	}
	ev, err := fluid.ParseWebhook(body)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if !ev.Activates() && !ev.Deactivates() {
		httputil.OK(w, map[string]string{"status": "ignored", "event": ev.Name})
		return
	}

	d, err := c.Tiers.HandleSubscriptionEvent(r.Context(), reconcile.SubscriptionEvent{
		Name:           ev.Name,
		SubscriptionID: ev.SubscriptionID,
		CustomerID:     ev.Customer.ID,
		Activated:      ev.Activates(),
	})
	if errors.Is(err, reconcile.ErrCustomerNotFound) {
		httputil.OK(w, map[string]string{"status": "skipped", "reason": "customer_not_found"})
		return
	}
	if err != nil {
		// A 5xx makes Fluid redeliver.
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, d)
}

type tierCallbackRequest struct {
	CustomerID string `json:"customer_id"`
}

type tierCallbackResponse struct {
	reconcile.TierDecision
	Preferred bool `json:"preferred"`
}

// customerTierCallback answers the cart-pricing question.
//
//	POST /callbacks/{companyID}/customer-tier
func (h *handlers) customerTierCallback(w http.ResponseWriter, r *http.Request) {
	c, ok := h.company(w, r)
	if !ok {
		return
	}
	body, ok := signedBody(w, r, c)
	if !ok {
		return
	}
	var req tierCallbackRequest
	if err := json.Unmarshal(body, &req); err != nil || req.CustomerID == "" {
		httputil.BadRequest(w, "customer_id is required")
		return
	}

	d, err := c.Tiers.ResolveTier(r.Context(), req.CustomerID)
	if errors.Is(err, reconcile.ErrCustomerNotFound) {
		httputil.NotFound(w, "customer not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, tierCallbackResponse{TierDecision: d, Preferred: d.Preferred()})
}

type overrideRequest struct {
	CustomerType domain.CustomerType `json:"customer_type"`
	Actor        string              `json:"actor"`
}

// overrideTier sets a tier by hand.
//
//	PUT /api/companies/{companyID}/customers/{customerID}/tier
func (h *handlers) overrideTier(w http.ResponseWriter, r *http.Request) {
	c, ok := h.company(w, r)
	if !ok {
		return
	}
	var req overrideRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if !req.CustomerType.Valid() {
		httputil.BadRequest(w, "customer_type must be preferred_customer or retail")
		return
	}
	if req.Actor == "" {
		req.Actor = "admin_api"
	}

	d, err := c.Tiers.Override(r.Context(), chi.URLParam(r, "customerID"), req.CustomerType, req.Actor)
	if errors.Is(err, reconcile.ErrCustomerNotFound) {
		httputil.NotFound(w, "customer not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, d)
}

// triggerSync starts a delta run in the background.
//
//	POST /api/companies/{companyID}/sync
func (h *handlers) triggerSync(w http.ResponseWriter, r *http.Request) {
	c, ok := h.company(w, r)
	if !ok {
		return
	}
	if h.deps.Trigger == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "sync trigger not configured")
		return
	}
	if c.Engine == nil {
		httputil.BadRequest(w, "company is not exigo_enabled")
		return
	}
	err := h.deps.Trigger.Trigger(worker.Job{CompanyID: c.ID, Sync: c.Engine})
	if errors.Is(err, distlock.ErrLockHeld) {
		httputil.Conflict(w, "sync_in_progress", "a sync for this company is already running")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Accepted(w, map[string]string{"status": "started", "company_id": c.ID})
}

// listCompanies describes every active company.
//
//	GET /api/companies
func (h *handlers) listCompanies(w http.ResponseWriter, r *http.Request) {
	all := h.deps.Companies.All()
	list := make([]domain.Company, len(all))
	for i, c := range all {
		list[i] = c.Summary()
	}
	httputil.OK(w, map[string]any{"companies": list})
}

// listSnapshots returns snapshot metadata, newest first.
//
//	GET /api/companies/{companyID}/snapshots?limit=
func (h *handlers) listSnapshots(w http.ResponseWriter, r *http.Request) {
	c, ok := h.company(w, r)
	if !ok {
		return
	}
	if h.deps.Snapshots == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "snapshot listing not available")
		return
	}
	list, err := h.deps.Snapshots.ListSnapshots(r.Context(), c.ID, limitParam(r, 10, 100))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if list == nil {
		list = []domain.SnapshotSummary{}
	}
	httputil.OK(w, map[string]any{"company_id": c.ID, "snapshots": list})
}

// listTransitions returns the newest audit rows.
//
//	GET /api/companies/{companyID}/transitions?limit=
func (h *handlers) listTransitions(w http.ResponseWriter, r *http.Request) {
	c, ok := h.company(w, r)
	if !ok {
		return
	}
	if h.deps.Transitions == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "transition listing not available")
		return
	}
	list, err := h.deps.Transitions.ListTransitions(r.Context(), c.ID, limitParam(r, 50, 500))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if list == nil {
		list = []domain.CustomerTypeTransition{}
	}
	httputil.OK(w, map[string]any{"company_id": c.ID, "transitions": list})
}

func limitParam(r *http.Request, def, ceiling int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 1 {
		return def
	}
	return min(n, ceiling)
}
