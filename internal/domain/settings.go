package domain

import (
	"fmt"
	"time"
)

// Defaults applied when a company has no stored integration settings.
const (
	DefaultPreferredCustomerTypeID = 2
	DefaultRetailCustomerTypeID    = 1
	DefaultAPIDelay                = 500 * time.Millisecond
	DefaultSnapshotsToKeep         = 5
	DefaultDailyWarmupLimit        = 10000
)

// IntegrationSettings are the per-company knobs the reconciliation core reads.
// Type IDs are values from Exigo's own customer-type taxonomy.
type IntegrationSettings struct {
	PreferredCustomerTypeID int           `json:"preferred_customer_type_id" yaml:"preferred_customer_type_id"`
	RetailCustomerTypeID    int           `json:"retail_customer_type_id" yaml:"retail_customer_type_id"`
	APIDelay                time.Duration `json:"api_delay" yaml:"api_delay"`
	SnapshotsToKeep         int           `json:"snapshots_to_keep" yaml:"snapshots_to_keep"`
	DailyWarmupLimit        int           `json:"daily_warmup_limit" yaml:"daily_warmup_limit"`
}

// DefaultIntegrationSettings returns the settings used when nothing is stored.
func DefaultIntegrationSettings() IntegrationSettings {
	return IntegrationSettings{
		PreferredCustomerTypeID: DefaultPreferredCustomerTypeID,
		RetailCustomerTypeID:    DefaultRetailCustomerTypeID,
		APIDelay:                DefaultAPIDelay,
		SnapshotsToKeep:         DefaultSnapshotsToKeep,
		DailyWarmupLimit:        DefaultDailyWarmupLimit,
	}
}

// WithDefaults fills zero-valued fields from DefaultIntegrationSettings.
// A negative APIDelay means "no delay" and is normalized to zero.
func (s IntegrationSettings) WithDefaults() IntegrationSettings {
	d := DefaultIntegrationSettings()
	if s.PreferredCustomerTypeID == 0 {
		s.PreferredCustomerTypeID = d.PreferredCustomerTypeID
	}
	if s.RetailCustomerTypeID == 0 {
		s.RetailCustomerTypeID = d.RetailCustomerTypeID
	}
	if s.APIDelay == 0 {
		s.APIDelay = d.APIDelay
	}
	if s.APIDelay < 0 {
		s.APIDelay = 0
	}
	if s.SnapshotsToKeep == 0 {
		s.SnapshotsToKeep = d.SnapshotsToKeep
	}
	if s.DailyWarmupLimit == 0 {
		s.DailyWarmupLimit = d.DailyWarmupLimit
	}
	return s
}

// Validate rejects settings the engine cannot run with.
func (s IntegrationSettings) Validate() error {
	if s.PreferredCustomerTypeID <= 0 || s.RetailCustomerTypeID <= 0 {
		return fmt.Errorf("customer type ids must be positive (preferred=%d retail=%d)",
			s.PreferredCustomerTypeID, s.RetailCustomerTypeID)
	}
	if s.PreferredCustomerTypeID == s.RetailCustomerTypeID {
		return fmt.Errorf("preferred and retail customer type ids must differ (both %d)", s.PreferredCustomerTypeID)
	}
	if s.SnapshotsToKeep < 1 {
		return fmt.Errorf("snapshots_to_keep must be at least 1, got %d", s.SnapshotsToKeep)
	}
	if s.DailyWarmupLimit < 1 {
		return fmt.Errorf("daily_warmup_limit must be at least 1, got %d", s.DailyWarmupLimit)
	}
	return nil
}

// TypeIDFor maps a tier onto the Exigo customer-type ID configured for it.
func (s IntegrationSettings) TypeIDFor(t CustomerType) int {
	if t == CustomerTypePreferred {
		return s.PreferredCustomerTypeID
	}
	return s.RetailCustomerTypeID
}

// Company is a tenant of the bridge.
type Company struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Active       bool                `json:"active"`
	ExigoEnabled bool                `json:"exigo_enabled"`
	Settings     IntegrationSettings `json:"settings"`
}
