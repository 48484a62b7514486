package reconcile

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ignite/exigo-bridge/internal/domain"
	"github.com/ignite/exigo-bridge/internal/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// noDelay disables throttling; zero would mean "use the default".
const noDelay = -1 * time.Nanosecond

func testSettings() domain.IntegrationSettings {
	return domain.IntegrationSettings{APIDelay: noDelay}
}

type fakeAutoship struct {
	ids   []string
	err   error
	calls int
}

func (f *fakeAutoship) ActiveAutoshipExternalIDs(context.Context) (domain.IDSet, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return domain.NewIDSet(f.ids...), nil
}

type tierCall struct {
	CustomerID string
	Tier       domain.CustomerType
}

// fakePlatform keeps customers keyed by external ID. With autoCreate set,
// unknown external IDs resolve to a fresh untagged customer.
type fakePlatform struct {
	mu            sync.Mutex
	autoCreate    bool
	customers     map[string]*domain.Customer
	index         map[string]*domain.Customer
	subscriptions map[string]bool
	autoshipFlags map[string]bool
	lookupErr     map[string]error
	setErr        map[string]error
	subErr        map[string]error
	setCalls      []tierCall
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		customers:     map[string]*domain.Customer{},
		index:         map[string]*domain.Customer{},
		subscriptions: map[string]bool{},
		autoshipFlags: map[string]bool{},
		lookupErr:     map[string]error{},
		setErr:        map[string]error{},
		subErr:        map[string]error{},
	}
}

func customerID(externalID string) string { return "c-" + externalID }

func (f *fakePlatform) add(externalID string, tier domain.CustomerType) *domain.Customer {
	c := &domain.Customer{ID: customerID(externalID), ExternalID: externalID, CurrentType: tier}
	f.customers[externalID] = c
	f.index[c.ID] = c
	return c
}

func (f *fakePlatform) byID(id string) *domain.Customer {
	return f.index[id]
}

func (f *fakePlatform) FindCustomerByExternalID(_ context.Context, externalID string) (*domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lookupErr[externalID]; err != nil {
		return nil, err
	}
	c, ok := f.customers[externalID]
	if !ok {
		if !f.autoCreate {
			return nil, nil
		}
		c = &domain.Customer{ID: customerID(externalID), ExternalID: externalID}
		f.customers[externalID] = c
		f.index[c.ID] = c
	}
	cp := *c
	return &cp, nil
}

func (f *fakePlatform) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.byID(id)
	if c == nil {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakePlatform) SetCustomerTier(_ context.Context, id string, tier domain.CustomerType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.setErr[id]; err != nil {
		return err
	}
	f.setCalls = append(f.setCalls, tierCall{CustomerID: id, Tier: tier})
	if c := f.byID(id); c != nil {
		c.CurrentType = tier
	}
	return nil
}

func (f *fakePlatform) HasActiveSubscription(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.subErr[id]; err != nil {
		return false, err
	}
	return f.subscriptions[id], nil
}

func (f *fakePlatform) HasActiveAutoshipFlag(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.autoshipFlags[id], nil
}

func (f *fakePlatform) calls() []tierCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tierCall(nil), f.setCalls...)
}

func (f *fakePlatform) tierOf(externalID string) domain.CustomerType {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.customers[externalID]; ok {
		return c.CurrentType
	}
	return ""
}

type mirrorCall struct {
	ExternalID string
	TypeID     int
}

type fakeMirror struct {
	mu    sync.Mutex
	err   error
	calls []mirrorCall
}

func (f *fakeMirror) SetCustomerTypeID(_ context.Context, externalID string, typeID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mirrorCall{externalID, typeID})
	return f.err
}

type memSnapshots struct {
	mu       sync.Mutex
	seq      int
	snaps    []*domain.AutoshipSnapshot
	saveErr  error
	pruneErr error
}

func (m *memSnapshots) seed(companyID string, at time.Time, ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.snaps = append(m.snaps, &domain.AutoshipSnapshot{
		ID: fmt.Sprintf("snap-%d", m.seq), CompanyID: companyID, ExternalIDs: ids, CapturedAt: at,
	})
}

func (m *memSnapshots) LatestSnapshot(_ context.Context, companyID string) (*domain.AutoshipSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.AutoshipSnapshot
	for _, s := range m.snaps {
		if s.CompanyID == companyID && (latest == nil || s.CapturedAt.After(latest.CapturedAt)) {
			latest = s
		}
	}
	return latest, nil
}

func (m *memSnapshots) SaveSnapshot(_ context.Context, companyID string, ids []string, at time.Time) (*domain.AutoshipSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	m.seq++
	s := &domain.AutoshipSnapshot{
		ID: fmt.Sprintf("snap-%d", m.seq), CompanyID: companyID,
		ExternalIDs: append([]string(nil), ids...), CapturedAt: at,
	}
	m.snaps = append(m.snaps, s)
	return s, nil
}

func (m *memSnapshots) PruneOldest(_ context.Context, companyID string, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pruneErr != nil {
		return 0, m.pruneErr
	}
	var mine, others []*domain.AutoshipSnapshot
	for _, s := range m.snaps {
		if s.CompanyID == companyID {
			mine = append(mine, s)
		} else {
			others = append(others, s)
		}
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].CapturedAt.After(mine[j].CapturedAt) })
	if len(mine) <= keep {
		return 0, nil
	}
	deleted := len(mine) - keep
	m.snaps = append(others, mine[:keep]...)
	return deleted, nil
}

func (m *memSnapshots) forCompany(companyID string) []*domain.AutoshipSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.AutoshipSnapshot
	for _, s := range m.snaps {
		if s.CompanyID == companyID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out
}

type memAudit struct {
	mu      sync.Mutex
	err     error
	records []*domain.CustomerTypeTransition
}

func (m *memAudit) RecordTransition(_ context.Context, t *domain.CustomerTypeTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, t)
	return nil
}

func (m *memAudit) all() []*domain.CustomerTypeTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.CustomerTypeTransition(nil), m.records...)
}

// stepClock advances one minute per reading so snapshots order strictly.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Minute)
	return c.t
}

type harness struct {
	autoship  *fakeAutoship
	platform  *fakePlatform
	mirror    *fakeMirror
	snapshots *memSnapshots
	audit     *memAudit
	clock     *stepClock
}

func newHarness() *harness {
	return &harness{
		autoship:  &fakeAutoship{},
		platform:  newFakePlatform(),
		mirror:    &fakeMirror{},
		snapshots: &memSnapshots{},
		audit:     &memAudit{},
		clock:     newStepClock(),
	}
}

func (h *harness) config(companyID string, settings domain.IntegrationSettings) Config {
	return Config{
		CompanyID: companyID,
		Settings:  settings,
		Autoship:  h.autoship,
		Platform:  h.platform,
		Mirror:    h.mirror,
		Snapshots: h.snapshots,
		Audit:     h.audit,
		Now:       h.clock.Now,
	}
}

func (h *harness) engine(t *testing.T, companyID string, settings domain.IntegrationSettings) *Engine {
	t.Helper()
	e, err := NewEngine(h.config(companyID, settings))
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}
