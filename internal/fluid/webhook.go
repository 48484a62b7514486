package fluid

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/exigo-bridge/internal/domain"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Fluid-Signature"

// Subscription webhook event names.
const (
	EventSubscriptionStarted     = "subscription.started"
	EventSubscriptionReactivated = "subscription.reactivated"
	EventSubscriptionCancelled   = "subscription.cancelled"
	EventSubscriptionPaused      = "subscription.paused"
)

// ErrBadSignature is returned when a webhook body does not match its signature.
var ErrBadSignature = errors.New("fluid: webhook signature mismatch")

// WebhookEvent is a decoded subscription webhook.
type WebhookEvent struct {
	Name           string
	SubscriptionID string
	Customer       domain.Customer
}

// Activates reports whether the event should move the customer to preferred.
func (e WebhookEvent) Activates() bool {
	return e.Name == EventSubscriptionStarted || e.Name == EventSubscriptionReactivated
}

// Deactivates reports whether the event may demote the customer.
func (e WebhookEvent) Deactivates() bool {
	return e.Name == EventSubscriptionCancelled || e.Name == EventSubscriptionPaused
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Subscription apiSubscription `json:"subscription"`
		Customer     apiCustomer     `json:"customer"`
	} `json:"data"`
}

// VerifySignature checks a webhook signature. The header may carry a
// "sha256=" prefix.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return fmt.Errorf("%w: no webhook secret configured", ErrBadSignature)
	}
	sig := strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) == 0 {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the signature Fluid would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook decodes a subscription webhook body.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook: %w", err)
	}
	if p.Event == "" {
		return WebhookEvent{}, errors.New("decode webhook: missing event name")
	}
	ev := WebhookEvent{
		Name:           p.Event,
		SubscriptionID: string(p.Data.Subscription.ID),
		Customer:       p.Data.Customer.toDomain(),
	}
	if ev.Customer.ID == "" {
		return WebhookEvent{}, errors.New("decode webhook: missing customer id")
	}
	return ev, nil
}
