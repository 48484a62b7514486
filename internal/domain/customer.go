package domain

import "time"

// CustomerType is the pricing tier a customer is tagged with on the platform.
type CustomerType string

const (
	CustomerTypePreferred CustomerType = "preferred_customer"
	CustomerTypeRetail    CustomerType = "retail"
)

// Valid reports whether t is one of the two known tiers.
func (t CustomerType) Valid() bool {
	return t == CustomerTypePreferred || t == CustomerTypeRetail
}

// ParseCustomerType converts a raw tag value into a CustomerType.
// Unknown or empty values return false.
func ParseCustomerType(s string) (CustomerType, bool) {
	t := CustomerType(s)
	return t, t.Valid()
}

// TransitionSource indicates which flow made a tier decision.
type TransitionSource string

const (
	SourceSyncJob  TransitionSource = "sync_job"
	SourceWebhook  TransitionSource = "webhook"
	SourceCallback TransitionSource = "callback"
	SourceManual   TransitionSource = "manual"
)

// Valid reports whether s is a known transition source.
func (s TransitionSource) Valid() bool {
	switch s {
	case SourceSyncJob, SourceWebhook, SourceCallback, SourceManual:
		return true
	}
	return false
}

// Customer is the platform's view of a customer, as far as the bridge needs it.
// CurrentType is empty when the customer carries no tier tag yet.
type Customer struct {
	ID          string       `json:"id"`
	ExternalID  string       `json:"external_id"`
	Email       string       `json:"email,omitempty"`
	CurrentType CustomerType `json:"current_type,omitempty"`
}

// CustomerTypeTransition is one audit row: a tier decision that was applied.
// Rows are append-only.
type CustomerTypeTransition struct {
	ID           string            `json:"id" db:"id"`
	CompanyID    string            `json:"company_id" db:"company_id"`
	CustomerID   string            `json:"customer_id" db:"customer_id"`
	ExternalID   string            `json:"external_id" db:"external_id"`
	PreviousType *CustomerType     `json:"previous_type,omitempty" db:"previous_type"`
	NewType      CustomerType      `json:"new_type" db:"new_type"`
	Source       TransitionSource  `json:"source" db:"source"`
	Metadata     map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
}
