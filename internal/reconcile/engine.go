package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/exigo-bridge/internal/domain"
	"github.com/ignite/exigo-bridge/internal/metrics"
	"github.com/ignite/exigo-bridge/internal/pkg/logger"
)

// Mode is how a run processed its delta.
type Mode string

const (
	ModeDelta  Mode = "delta"
	ModeWarmup Mode = "warmup"
)

// Outcome summarizes one Synchronize call.
type Outcome struct {
	CompanyID string `json:"company_id"`
	Mode      Mode   `json:"mode"`
	Success   bool   `json:"success"`

	// NewCount and LostCount are the sizes of the computed deltas.
	NewCount  int `json:"new_count"`
	LostCount int `json:"lost_count"`

	PromotedCount int `json:"promoted_count"`
	DemotedCount  int `json:"demoted_count"`
	// KeptCount is lost IDs kept preferred by an active Fluid subscription.
	KeptCount int `json:"kept_count"`
	// SkippedCount is customers not found on Fluid or already on the target tier.
	SkippedCount int `json:"skipped_count"`
	FailedCount  int `json:"failed_count"`
	// DeferredCount is new IDs left for a later warmup run.
	DeferredCount int `json:"deferred_count"`

	SnapshotID   string        `json:"snapshot_id,omitempty"`
	SnapshotSize int           `json:"snapshot_size"`
	Duration     time.Duration `json:"duration"`
}

// Config wires an Engine for one company.
type Config struct {
	CompanyID string
	Settings  domain.IntegrationSettings

	Autoship  AutoshipSource
	Platform  PlatformGateway
	Mirror    BackOfficeMirror // optional
	Snapshots SnapshotStore
	Audit     AuditStore
	Archiver  SnapshotArchiver // optional

	Now func() time.Time
}

// Engine runs delta syncs for a single company. It is not safe to run
// Synchronize concurrently for the same company; callers hold the
// company's run lock.
type Engine struct {
	companyID string
	settings  domain.IntegrationSettings
	autoship  AutoshipSource
	platform  PlatformGateway
	snapshots SnapshotStore
	archiver  SnapshotArchiver
	writer    *TierWriter
	now       func() time.Time
	log       *logger.Logger
}

// NewEngine validates cfg and builds an Engine. Unset settings fall back
// to the defaults. All errors wrap ErrMisconfigured.
func NewEngine(cfg Config) (*Engine, error) {
	var missing []string
	if cfg.CompanyID == "" {
		missing = append(missing, "company id")
	}
	if cfg.Autoship == nil {
		missing = append(missing, "autoship source")
	}
	if cfg.Platform == nil {
		missing = append(missing, "platform gateway")
	}
	if cfg.Snapshots == nil {
		missing = append(missing, "snapshot store")
	}
	if cfg.Audit == nil {
		missing = append(missing, "audit store")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %v", ErrMisconfigured, missing)
	}

	settings := cfg.Settings.WithDefaults()
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: company %s: %v", ErrMisconfigured, cfg.CompanyID, err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	writer := NewTierWriter(cfg.CompanyID, settings, cfg.Platform, cfg.Mirror, cfg.Audit)
	writer.now = now

	return &Engine{
		companyID: cfg.CompanyID,
		settings:  settings,
		autoship:  cfg.Autoship,
		platform:  cfg.Platform,
		snapshots: cfg.Snapshots,
		archiver:  cfg.Archiver,
		writer:    writer,
		now:       now,
		log:       logger.With("component", "reconcile", "company_id", cfg.CompanyID),
	}, nil
}

// Settings returns the effective settings after defaults.
func (e *Engine) Settings() domain.IntegrationSettings { return e.settings }

// Writer returns the engine's tier writer, shared with other flows of
// the same company so they draw from one throttle.
func (e *Engine) Writer() *TierWriter { return e.writer }

// Synchronize runs one delta sync.
//
// A failure to read today's autoship set or the previous snapshot aborts
// the run before any mutation. Per-customer failures are counted and
// logged and never abort the run. If the new snapshot cannot be written
// the outcome reports Success=false and the error wraps ErrSnapshotWrite.
func (e *Engine) Synchronize(ctx context.Context) (Outcome, error) {
	start := e.now()
	out := Outcome{CompanyID: e.companyID, Mode: ModeDelta}
	timer := metrics.NewTimer()
	defer func() {
		out.Duration = e.now().Sub(start)
		timer.ObserveDurationVec(metrics.RunDuration, e.companyID)
		result := "success"
		if !out.Success {
			result = "failure"
		}
		metrics.SyncRunsTotal.WithLabelValues(e.companyID, string(out.Mode), result).Inc()
	}()

	today, err := e.ActiveAutoship(ctx)
	if err != nil {
		e.log.Error("autoship fetch failed, aborting run", "error", err)
		return out, err
	}

	prev, err := e.snapshots.LatestSnapshot(ctx, e.companyID)
	if err != nil {
		e.log.Error("snapshot read failed, aborting run", "error", err)
		return out, fmt.Errorf("%w: %w", ErrSnapshotRead, err)
	}
	yesterday := prev.IDSet()

	newIDs := today.Difference(yesterday)
	lostIDs := yesterday.Difference(today)
	out.NewCount = newIDs.Len()
	out.LostCount = lostIDs.Len()

	var baseline domain.IDSet
	if yesterday.Len() == 0 || newIDs.Len() > e.settings.DailyWarmupLimit {
		out.Mode = ModeWarmup
		plan := planWarmup(yesterday, newIDs, e.settings.DailyWarmupLimit)
		out.DeferredCount = plan.deferred
		e.log.Info("starting warmup run",
			"today", today.Len(), "previous", yesterday.Len(),
			"new", newIDs.Len(), "batch", len(plan.batch),
			"deferred", plan.deferred, "demotions_deferred", lostIDs.Len())

		if err := e.processNew(ctx, plan.batch, &out); err != nil {
			return out, err
		}
		baseline = plan.baseline
	} else {
		e.log.Info("starting delta run",
			"today", today.Len(), "previous", yesterday.Len(),
			"new", newIDs.Len(), "lost", lostIDs.Len())

		if err := e.processNew(ctx, newIDs.Sorted(), &out); err != nil {
			return out, err
		}
		if err := e.processLost(ctx, lostIDs.Sorted(), &out); err != nil {
			return out, err
		}
		baseline = today
	}

	if err := e.persist(ctx, baseline, &out); err != nil {
		return out, err
	}

	out.Success = true
	e.log.Info("sync run complete",
		"mode", out.Mode, "promoted", out.PromotedCount, "demoted", out.DemotedCount,
		"kept", out.KeptCount, "skipped", out.SkippedCount, "failed", out.FailedCount,
		"deferred", out.DeferredCount, "snapshot_size", out.SnapshotSize)
	return out, nil
}

// processNew promotes each ID. A canceled ctx stops the loop and the run
// ends without a snapshot; already applied changes are skipped on rerun.
func (e *Engine) processNew(ctx context.Context, ids []string, out *Outcome) error {
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run interrupted: %w", err)
		}
		cust, ok := e.lookup(ctx, id, out)
		if !ok {
			continue
		}
		changed, err := e.writer.Apply(ctx, *cust, domain.CustomerTypePreferred, domain.SourceSyncJob,
			map[string]string{"reason": "exigo_autoship_started"})
		if err != nil {
			e.customerFailed(ctx, "tier", id, cust.ID, err, out)
			continue
		}
		if changed {
			out.PromotedCount++
		} else {
			out.SkippedCount++
		}
	}
	return nil
}

// processLost demotes each ID unless Fluid shows its own active
// subscription for the customer.
func (e *Engine) processLost(ctx context.Context, ids []string, out *Outcome) error {
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run interrupted: %w", err)
		}
		cust, ok := e.lookup(ctx, id, out)
		if !ok {
			continue
		}
		active, err := e.writer.PlatformActive(ctx, cust.ID)
		if err != nil {
			e.customerFailed(ctx, "subscription", id, cust.ID, err, out)
			continue
		}
		if active {
			out.KeptCount++
			e.log.Debug("exigo autoship ended but fluid subscription active, keeping tier",
				"customer_id", cust.ID, "external_id", id)
			continue
		}
		changed, err := e.writer.Apply(ctx, *cust, domain.CustomerTypeRetail, domain.SourceSyncJob,
			map[string]string{"reason": "exigo_autoship_ended"})
		if err != nil {
			e.customerFailed(ctx, "tier", id, cust.ID, err, out)
			continue
		}
		if changed {
			out.DemotedCount++
		} else {
			out.SkippedCount++
		}
	}
	return nil
}

func (e *Engine) lookup(ctx context.Context, externalID string, out *Outcome) (*domain.Customer, bool) {
	cust, err := e.platform.FindCustomerByExternalID(ctx, externalID)
	if err != nil {
		e.customerFailed(ctx, "lookup", externalID, "", err, out)
		return nil, false
	}
	if cust == nil {
		out.SkippedCount++
		e.log.Debug("no fluid customer for external id", "external_id", externalID)
		return nil, false
	}
	return cust, true
}

func (e *Engine) customerFailed(ctx context.Context, stage, externalID, customerID string, err error, out *Outcome) {
	out.FailedCount++
	if stage != "tier" {
		metrics.CustomerFailuresTotal.WithLabelValues(e.companyID, stage).Inc()
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return
	}
	e.log.Error("customer sync failed",
		"stage", stage, "external_id", externalID, "customer_id", customerID, "error", err)
}

func (e *Engine) persist(ctx context.Context, ids domain.IDSet, out *Outcome) error {
	snap, err := e.CommitSnapshot(ctx, ids)
	if err != nil {
		return err
	}
	out.SnapshotID = snap.ID
	out.SnapshotSize = len(snap.ExternalIDs)
	return nil
}

// ActiveAutoship reads today's active autoship set. Errors wrap
// ErrFetchAutoship.
func (e *Engine) ActiveAutoship(ctx context.Context) (domain.IDSet, error) {
	ids, err := e.autoship.ActiveAutoshipExternalIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchAutoship, err)
	}
	return ids, nil
}

// CommitSnapshot stores ids as the company's newest snapshot, archives
// it, and prunes past the retention count. Only the write itself can
// fail; archive and prune errors are logged.
func (e *Engine) CommitSnapshot(ctx context.Context, ids domain.IDSet) (*domain.AutoshipSnapshot, error) {
	snap, err := e.snapshots.SaveSnapshot(ctx, e.companyID, ids.Sorted(), e.now().UTC())
	if err != nil {
		e.log.Error("snapshot write failed after mutations", "size", ids.Len(), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSnapshotWrite, err)
	}
	metrics.SnapshotSize.WithLabelValues(e.companyID).Set(float64(len(snap.ExternalIDs)))

	if e.archiver != nil {
		if err := e.archiver.ArchiveSnapshot(ctx, snap); err != nil {
			e.log.Warn("snapshot archive failed", "snapshot_id", snap.ID, "error", err)
		}
	}

	pruned, err := e.snapshots.PruneOldest(ctx, e.companyID, e.settings.SnapshotsToKeep)
	if err != nil {
		e.log.Warn("snapshot prune failed", "keep", e.settings.SnapshotsToKeep, "error", err)
	} else if pruned > 0 {
		e.log.Debug("pruned old snapshots", "deleted", pruned, "keep", e.settings.SnapshotsToKeep)
	}
	return snap, nil
}
