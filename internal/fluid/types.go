package fluid

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ignite/exigo-bridge/internal/domain"
)

// MetadataCustomerType is the customer metadata key holding the tier tag.
const MetadataCustomerType = "customer_type"

// MetadataAutoshipActive is the customer metadata key Fluid sets while a
// native autoship is running.
const MetadataAutoshipActive = "has_active_autoship"

// flexID accepts either a JSON number or a JSON string. Fluid returns
// numeric IDs on some endpoints and strings on others.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// apiCustomer is the wire form of a Fluid customer.
type apiCustomer struct {
	ID         flexID         `json:"id"`
	ExternalID flexID         `json:"external_id"`
	Email      string         `json:"email"`
	Metadata   map[string]any `json:"metadata"`
}

func (c apiCustomer) toDomain() domain.Customer {
	out := domain.Customer{
		ID:         string(c.ID),
		ExternalID: domain.NormalizeExternalID(string(c.ExternalID)),
		Email:      c.Email,
	}
	if raw, ok := c.Metadata[MetadataCustomerType].(string); ok {
		if t, ok := domain.ParseCustomerType(raw); ok {
			out.CurrentType = t
		}
	}
	return out
}

// autoshipActive reads the native autoship flag. Fluid has stored it as a
// bool, a "true"/"false" string, and 0/1 over time.
func (c apiCustomer) autoshipActive() bool {
	switch v := c.Metadata[MetadataAutoshipActive].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	case float64:
		return v != 0
	}
	return false
}

type customerEnvelope struct {
	Customer apiCustomer `json:"customer"`
}

type customerList struct {
	Customers []apiCustomer `json:"customers"`
	Meta      struct {
		Pagination struct {
			CurrentPage int `json:"current_page"`
			TotalPages  int `json:"total_pages"`
			TotalCount  int `json:"total_count"`
		} `json:"pagination"`
	} `json:"meta"`
}

type apiSubscription struct {
	ID     flexID `json:"id"`
	Status string `json:"status"`
}

type subscriptionList struct {
	Subscriptions []apiSubscription `json:"subscriptions"`
}

type metadataUpdate struct {
	Customer struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"customer"`
}

// CustomerPage is one page of the customer listing used for fan-out.
type CustomerPage struct {
	Customers  []domain.Customer
	Page       int
	TotalPages int
}

// HasMore reports whether another page follows this one.
func (p CustomerPage) HasMore() bool {
	return p.Page < p.TotalPages
}
