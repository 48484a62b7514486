// Package tenant turns configuration into a wired gateway set per
// company. Every configuration problem surfaces here, before any run.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/exigo-bridge/internal/config"
	"github.com/ignite/exigo-bridge/internal/domain"
	"github.com/ignite/exigo-bridge/internal/exigo"
	"github.com/ignite/exigo-bridge/internal/fanout"
	"github.com/ignite/exigo-bridge/internal/fluid"
	"github.com/ignite/exigo-bridge/internal/pkg/logger"
	"github.com/ignite/exigo-bridge/internal/reconcile"
)

// SettingsSource reads settings maintained outside the config file.
type SettingsSource interface {
	GetSettings(ctx context.Context, companyID string) (domain.IntegrationSettings, bool, error)
}

// Stores is the persistence shared by every company.
type Stores struct {
	Snapshots reconcile.SnapshotStore
	Audit     reconcile.AuditStore
	Settings  SettingsSource             // optional
	Archiver  reconcile.SnapshotArchiver // optional
}

// Company is one tenant's wired components. Engine and Pages are nil for
// companies without exigo_enabled; they still get webhook and callback
// handling through Tiers.
type Company struct {
	ID            string
	Name          string
	ExigoEnabled  bool
	DryRun        bool
	WebhookSecret string
	Settings      domain.IntegrationSettings

	Engine *reconcile.Engine
	Tiers  *reconcile.TierService
	Pages  *reconcile.PageProcessor
	Pager  fanout.CustomerPager

	closers []io.Closer
}

// Summary is the company's public description. Only active companies are
// registered, so Active is always true.
func (c *Company) Summary() domain.Company {
	return domain.Company{
		ID:           c.ID,
		Name:         c.Name,
		Active:       true,
		ExigoEnabled: c.ExigoEnabled,
		Settings:     c.Settings,
	}
}

// PageHandler returns the handler queue consumers run for this company.
func (c *Company) PageHandler() (*fanout.PageHandler, error) {
	if c.Pages == nil {
		return nil, fmt.Errorf("company %s is not exigo_enabled", c.ID)
	}
	return fanout.NewPageHandler(c.Pager, c.Pages), nil
}

// Orchestrator builds a page fan-out for this company.
func (c *Company) Orchestrator(rdb redis.Cmdable, fc config.FanoutConfig, queue fanout.Publisher) (*fanout.Orchestrator, error) {
	if c.Engine == nil {
		return nil, fmt.Errorf("company %s is not exigo_enabled", c.ID)
	}
	cfg := fanout.Config{
		CompanyID: c.ID,
		Baseline:  c.Engine,
		Pager:     c.Pager,
		Processor: c.Pages,
		Redis:     rdb,
		Mode:      fc.Mode,
		PageSize:  fc.PageSize,
		Workers:   fc.Workers,
		SetTTL:    fc.SetTTL(),
	}
	if fc.Mode == fanout.ModeSQS {
		cfg.Queue = queue
	}
	return fanout.NewOrchestrator(cfg)
}

// Close releases the company's database handles.
func (c *Company) Close() error {
	var errs []error
	for _, cl := range c.closers {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}

// Registry holds every active company.
type Registry struct {
	mu        sync.RWMutex
	companies map[string]*Company
}

// Build wires all active companies in cfg. Errors from every company are
// joined and wrap reconcile.ErrMisconfigured.
func Build(ctx context.Context, cfg *config.Config, stores Stores) (*Registry, error) {
	if stores.Snapshots == nil || stores.Audit == nil {
		return nil, fmt.Errorf("%w: snapshot and audit stores are required", reconcile.ErrMisconfigured)
	}
	reg := &Registry{companies: make(map[string]*Company)}
	var errs []error
	for _, cc := range cfg.Companies {
		if !cc.IsActive() {
			logger.Info("skipping inactive company", "company_id", cc.ID)
			continue
		}
		c, err := buildCompany(ctx, cfg, cc, stores)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		reg.companies[c.ID] = c
	}
	if len(errs) > 0 {
		_ = reg.Close()
		return nil, errors.Join(errs...)
	}
	logger.Info("tenants configured", "companies", len(reg.companies), "dry_run", cfg.Sync.DryRun)
	return reg, nil
}

func buildCompany(ctx context.Context, cfg *config.Config, cc config.CompanyConfig, stores Stores) (*Company, error) {
	settings, err := resolveSettings(ctx, cfg, cc, stores.Settings)
	if err != nil {
		return nil, fmt.Errorf("%w: company %s: %v", reconcile.ErrMisconfigured, cc.ID, err)
	}

	baseURL := cc.Fluid.BaseURL
	if baseURL == "" {
		baseURL = cfg.Fluid.BaseURL
	}
	fluidClient := fluid.NewClient(fluid.Config{
		BaseURL:    baseURL,
		APIToken:   cc.Fluid.APIToken,
		Timeout:    cfg.Fluid.Timeout(),
		MaxRetries: cfg.Fluid.MaxRetries,
	})

	c := &Company{
		ID:            cc.ID,
		Name:          cc.Name,
		ExigoEnabled:  cc.ExigoEnabled,
		DryRun:        cfg.Sync.DryRun,
		WebhookSecret: cc.Fluid.WebhookSecret,
		Settings:      settings,
		Pager:         fluidClient,
	}

	var (
		platform  reconcile.PlatformGateway = fluidClient
		mirror    reconcile.BackOfficeMirror
		audit     = stores.Audit
		snapshots = stores.Snapshots
		archiver  = stores.Archiver
		autoship  *exigo.AutoshipSource
	)
	if cc.Exigo.APIBaseURL != "" {
		mirror = exigo.NewMirror(exigo.MirrorConfig{
			BaseURL:     cc.Exigo.APIBaseURL,
			LoginName:   cc.Exigo.LoginName,
			Password:    cc.Exigo.Password,
			CompanyName: cc.Exigo.CompanyName,
			Timeout:     cfg.Exigo.Timeout(),
			MaxRetries:  cfg.Exigo.MaxRetries,
		})
	}
	if cc.Exigo.SQLDSN != "" {
		autoship, err = exigo.OpenAutoshipSource(cc.Exigo.SQLDriver, cc.Exigo.SQLDSN, cfg.Exigo.QueryTimeout())
		if err != nil {
			return nil, fmt.Errorf("%w: company %s: %v", reconcile.ErrMisconfigured, cc.ID, err)
		}
		c.closers = append(c.closers, autoship)
	}

	if cfg.Sync.DryRun {
		platform = reconcile.DryRunPlatform(platform)
		mirror = reconcile.DryRunMirror()
		audit = reconcile.DryRunAudit()
		snapshots = reconcile.DryRunSnapshots(snapshots)
		archiver = nil
	}

	var (
		source  reconcile.AutoshipSource
		checker reconcile.AutoshipChecker
	)
	if autoship != nil {
		source = autoship
		checker = autoship
	}

	if cc.ExigoEnabled {
		engine, err := reconcile.NewEngine(reconcile.Config{
			CompanyID: cc.ID,
			Settings:  settings,
			Autoship:  source,
			Platform:  platform,
			Mirror:    mirror,
			Snapshots: snapshots,
			Audit:     audit,
			Archiver:  archiver,
		})
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.Engine = engine
		c.Pages = reconcile.NewPageProcessor(cc.ID, engine.Writer())
		c.Tiers = reconcile.NewTierService(cc.ID, engine.Writer(), platform, checker)
		return c, nil
	}

	writer := reconcile.NewTierWriter(cc.ID, settings.WithDefaults(), platform, mirror, audit)
	c.Tiers = reconcile.NewTierService(cc.ID, writer, platform, checker)
	return c, nil
}

// resolveSettings layers the stored row over the company's YAML block
// over sync.defaults. Zero fields fall through to the next layer, and
// whatever is still zero gets the domain defaults in WithDefaults.
func resolveSettings(ctx context.Context, cfg *config.Config, cc config.CompanyConfig, src SettingsSource) (domain.IntegrationSettings, error) {
	layers := make([]domain.IntegrationSettings, 0, 3)
	if src != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		stored, ok, err := src.GetSettings(lookupCtx, cc.ID)
		cancel()
		if err != nil {
			return domain.IntegrationSettings{}, err
		}
		if ok {
			layers = append(layers, stored)
		}
	}
	if cc.Settings != nil {
		layers = append(layers, cc.Settings.Settings())
	}
	layers = append(layers, cfg.Sync.Defaults.Settings())

	merged := MergeSettings(layers...).WithDefaults()
	if err := merged.Validate(); err != nil {
		return domain.IntegrationSettings{}, err
	}
	return merged, nil
}

// MergeSettings takes each field from the first layer that sets it.
func MergeSettings(layers ...domain.IntegrationSettings) domain.IntegrationSettings {
	var out domain.IntegrationSettings
	for _, l := range layers {
		if out.PreferredCustomerTypeID == 0 {
			out.PreferredCustomerTypeID = l.PreferredCustomerTypeID
		}
		if out.RetailCustomerTypeID == 0 {
			out.RetailCustomerTypeID = l.RetailCustomerTypeID
		}
		if out.APIDelay == 0 {
			out.APIDelay = l.APIDelay
		}
		if out.SnapshotsToKeep == 0 {
			out.SnapshotsToKeep = l.SnapshotsToKeep
		}
		if out.DailyWarmupLimit == 0 {
			out.DailyWarmupLimit = l.DailyWarmupLimit
		}
	}
	return out
}

// Get returns a company by ID.
func (r *Registry) Get(id string) (*Company, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.companies[id]
	return c, ok
}

// All returns every company sorted by ID.
func (r *Registry) All() []*Company {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Company, 0, len(r.companies))
	for _, c := range r.companies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Syncable returns the companies the scheduler runs.
func (r *Registry) Syncable() []*Company {
	var out []*Company
	for _, c := range r.All() {
		if c.Engine != nil {
			out = append(out, c)
		}
	}
	return out
}

// PageHandler implements worker.HandlerResolver.
func (r *Registry) PageHandler(companyID string) (*fanout.PageHandler, error) {
	c, ok := r.Get(companyID)
	if !ok {
		return nil, fmt.Errorf("unknown company %q", companyID)
	}
	return c.PageHandler()
}

// Close releases every company's handles.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, c := range r.companies {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
