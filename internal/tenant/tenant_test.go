package tenant

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/exigo-bridge/internal/config"
	"github.com/ignite/exigo-bridge/internal/domain"
	"github.com/ignite/exigo-bridge/internal/fanout"
	"github.com/ignite/exigo-bridge/internal/pkg/logger"
	"github.com/ignite/exigo-bridge/internal/reconcile"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type nopSnapshots struct{}

func (nopSnapshots) LatestSnapshot(context.Context, string) (*domain.AutoshipSnapshot, error) {
	return nil, nil
}
func (nopSnapshots) SaveSnapshot(_ context.Context, companyID string, ids []string, at time.Time) (*domain.AutoshipSnapshot, error) {
	return &domain.AutoshipSnapshot{ID: "s", CompanyID: companyID, ExternalIDs: ids, CapturedAt: at}, nil
}
func (nopSnapshots) PruneOldest(context.Context, string, int) (int, error) { return 0, nil }

type nopAudit struct{}

func (nopAudit) RecordTransition(context.Context, *domain.CustomerTypeTransition) error { return nil }

type stubSettings struct {
	rows map[string]domain.IntegrationSettings
	err  error
}

func (s stubSettings) GetSettings(_ context.Context, id string) (domain.IntegrationSettings, bool, error) {
	if s.err != nil {
		return domain.IntegrationSettings{}, false, s.err
	}
	r, ok := s.rows[id]
	return r, ok, nil
}

func boolPtr(b bool) *bool { return &b }

func testConfig() *config.Config {
	return &config.Config{
		Fluid:  config.FluidConfig{BaseURL: "https://api.fluid.test", TimeoutSeconds: 5, MaxRetries: 1},
		Exigo:  config.ExigoConfig{TimeoutSeconds: 5, MaxRetries: 1, QueryTimeoutSeconds: 30},
		Fanout: config.FanoutConfig{Mode: "local", PageSize: 50, Workers: 2, SetTTLMinutes: 60},
		Sync:   config.SyncConfig{Defaults: config.SettingsConfig{APIDelaySeconds: 0.25, DailyWarmupLimit: 5000}},
		Companies: []config.CompanyConfig{
			{
				ID:           "acme",
				Name:         "Acme",
				ExigoEnabled: true,
				Fluid:        config.CompanyFluidConfig{APIToken: "tok", WebhookSecret: "whsec"},
				Exigo: config.CompanyExigoConfig{
					SQLDriver:  "sqlserver",
					SQLDSN:     "sqlserver://sync:pw@localhost:1433?database=ExigoSync",
					APIBaseURL: "https://acme-api.exigo.test/3.0",
					LoginName:  "api",
					Password:   "pw",
				},
				Settings: &config.SettingsConfig{SnapshotsToKeep: 7},
			},
			{ID: "webhooks-only", Fluid: config.CompanyFluidConfig{APIToken: "t2"}},
			{ID: "retired", Active: boolPtr(false)},
		},
	}
}

func TestBuild_WiresCompanies(t *testing.T) {
	settings := stubSettings{rows: map[string]domain.IntegrationSettings{
		"acme": {PreferredCustomerTypeID: 4, DailyWarmupLimit: 2000},
	}}
	reg, err := Build(context.Background(), testConfig(), Stores{
		Snapshots: nopSnapshots{}, Audit: nopAudit{}, Settings: settings,
	})
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "acme", all[0].ID)

	acme, ok := reg.Get("acme")
	require.True(t, ok)
	require.NotNil(t, acme.Engine)
	require.NotNil(t, acme.Pages)
	require.NotNil(t, acme.Tiers)
	assert.Equal(t, "whsec", acme.WebhookSecret)

	s := acme.Engine.Settings()
	assert.Equal(t, 4, s.PreferredCustomerTypeID, "stored row wins")
	assert.Equal(t, 2000, s.DailyWarmupLimit, "stored row wins over defaults")
	assert.Equal(t, 7, s.SnapshotsToKeep, "company yaml over sync defaults")
	assert.Equal(t, 250*time.Millisecond, s.APIDelay, "sync defaults")
	assert.Equal(t, domain.DefaultRetailCustomerTypeID, s.RetailCustomerTypeID)

	sum := acme.Summary()
	assert.True(t, sum.Active)
	assert.True(t, sum.ExigoEnabled)
	assert.Equal(t, 4, sum.Settings.PreferredCustomerTypeID)

	hooks, ok := reg.Get("webhooks-only")
	require.True(t, ok)
	assert.Nil(t, hooks.Engine)
	assert.NotNil(t, hooks.Tiers)
	_, err = hooks.PageHandler()
	assert.Error(t, err)

	_, ok = reg.Get("retired")
	assert.False(t, ok)

	syncable := reg.Syncable()
	require.Len(t, syncable, 1)
	assert.Equal(t, "acme", syncable[0].ID)

	_, err = reg.PageHandler("acme")
	assert.NoError(t, err)
	_, err = reg.PageHandler("nope")
	assert.Error(t, err)
}

func TestBuild_SettingsErrorIsMisconfiguration(t *testing.T) {
	_, err := Build(context.Background(), testConfig(), Stores{
		Snapshots: nopSnapshots{}, Audit: nopAudit{}, Settings: stubSettings{err: errors.New("db down")},
	})
	require.ErrorIs(t, err, reconcile.ErrMisconfigured)
	assert.Contains(t, err.Error(), "db down")
}

func TestBuild_InvalidSettingsRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Companies[0].Settings = &config.SettingsConfig{PreferredCustomerTypeID: 3, RetailCustomerTypeID: 3}
	_, err := Build(context.Background(), cfg, Stores{Snapshots: nopSnapshots{}, Audit: nopAudit{}})
	require.ErrorIs(t, err, reconcile.ErrMisconfigured)
}

func TestBuild_BadDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Companies[0].Exigo.SQLDriver = "oracle"
	_, err := Build(context.Background(), cfg, Stores{Snapshots: nopSnapshots{}, Audit: nopAudit{}})
	require.ErrorIs(t, err, reconcile.ErrMisconfigured)
}

func TestBuild_RequiresStores(t *testing.T) {
	_, err := Build(context.Background(), testConfig(), Stores{})
	require.ErrorIs(t, err, reconcile.ErrMisconfigured)
}

func TestBuild_DryRun(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.DryRun = true
	reg, err := Build(context.Background(), cfg, Stores{Snapshots: nopSnapshots{}, Audit: nopAudit{}})
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	acme, _ := reg.Get("acme")
	assert.True(t, acme.DryRun)
}

func TestCompany_Orchestrator(t *testing.T) {
	reg, err := Build(context.Background(), testConfig(), Stores{Snapshots: nopSnapshots{}, Audit: nopAudit{}})
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	acme, _ := reg.Get("acme")
	o, err := acme.Orchestrator(rdb, testConfig().Fanout, nil)
	require.NoError(t, err)
	assert.NotNil(t, o)

	hooks, _ := reg.Get("webhooks-only")
	_, err = hooks.Orchestrator(rdb, config.FanoutConfig{Mode: fanout.ModeLocal}, nil)
	assert.Error(t, err)
}

func TestMergeSettings(t *testing.T) {
	got := MergeSettings(
		domain.IntegrationSettings{APIDelay: -1},
		domain.IntegrationSettings{APIDelay: time.Second, SnapshotsToKeep: 3},
		domain.IntegrationSettings{SnapshotsToKeep: 9, DailyWarmupLimit: 10},
	)
	assert.Equal(t, time.Duration(-1), got.APIDelay)
	assert.Equal(t, 3, got.SnapshotsToKeep)
	assert.Equal(t, 10, got.DailyWarmupLimit)
	assert.Zero(t, got.PreferredCustomerTypeID)
}
