// Package alert notifies operators when a company's reconciliation run
// fails outright.
package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/exigo-bridge/internal/pkg/logger"
)

// Alert describes one failed run.
type Alert struct {
	CompanyID string
	Subject   string
	Detail    string
	Err       error
	At        time.Time
}

func (a Alert) body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", a.CompanyID)
	fmt.Fprintf(&b, "Time: %s\n", a.At.UTC().Format(time.RFC3339))
	if a.Detail != "" {
		fmt.Fprintf(&b, "\n%s\n", a.Detail)
	}
	if a.Err != nil {
		fmt.Fprintf(&b, "\nError: %v\n", a.Err)
	}
	return b.String()
}

// Alerter delivers alerts.
type Alerter interface {
	Notify(ctx context.Context, a Alert) error
}

// LogAlerter writes alerts to the structured log. It is the fallback when
// no sender is configured.
type LogAlerter struct{}

func (LogAlerter) Notify(_ context.Context, a Alert) error {
	logger.Error("sync alert", "company", a.CompanyID, "subject", a.Subject, "error", a.Err)
	return nil
}

// SESAPI is the subset of the SES v2 client the alerter uses.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, opts ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESAlerter emails alerts through SES.
type SESAlerter struct {
	client     SESAPI
	sender     string
	recipients []string
}

// NewSESAlerter returns an alerter sending from sender to recipients.
func NewSESAlerter(client SESAPI, sender string, recipients []string) *SESAlerter {
	return &SESAlerter{client: client, sender: sender, recipients: recipients}
}

func (s *SESAlerter) Notify(ctx context.Context, a Alert) error {
	if len(s.recipients) == 0 {
		return nil
	}
	subject := a.Subject
	if subject == "" {
		subject = "Exigo sync failed"
	}
	subject = fmt.Sprintf("[exigo-bridge] %s: %s", a.CompanyID, subject)

	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.sender),
		Destination:      &types.Destination{ToAddresses: s.recipients},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(a.body()), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("company_id"), Value: aws.String(tagValue(a.CompanyID))},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send alert: %w", err)
	}

	messageID := ""
	if out.MessageId != nil {
		messageID = *out.MessageId
	}
	logger.Info("alert sent", "company", a.CompanyID, "message_id", messageID)
	return nil
}

// tagValue keeps SES tag values within the allowed character set.
func tagValue(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, s)
}

// Multi fans an alert out to several alerters and returns the first error.
type Multi []Alerter

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var first error
	for _, al := range m {
		if err := al.Notify(ctx, a); err != nil && first == nil {
			first = err
		}
	}
	return first
}
