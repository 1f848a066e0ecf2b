// Package payment provides the Stripe adapter: metered usage export and
// webhook signature verification.
package payment

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/usagerecord"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/saas2guys/fingate/ports"
)

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// Stripe implements ports.BillingReporter and ports.WebhookVerifier.
type Stripe struct {
	config StripeConfig
}

// NewStripe creates a new Stripe adapter.
func NewStripe(config StripeConfig) *Stripe {
	stripe.Key = config.SecretKey
	return &Stripe{config: config}
}

// ReportUsage sets the usage quantity on a subscription item. Action "set"
// makes the daily export idempotent: re-running a day overwrites instead of
// double-billing.
func (p *Stripe) ReportUsage(ctx context.Context, subscriptionItemID string, quantity int64, at time.Time) error {
	params := &stripe.UsageRecordParams{
		SubscriptionItem: stripe.String(subscriptionItemID),
		Quantity:         stripe.Int64(quantity),
		Timestamp:        stripe.Int64(at.Unix()),
		Action:           stripe.String(string(stripe.UsageRecordActionSet)),
	}
	_, err := usagerecord.New(params)
	return err
}

// Verify checks the webhook signature and returns the event type, event ID
// and raw object payload.
func (p *Stripe) Verify(payload []byte, signature string) (string, string, []byte, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.config.WebhookSecret)
	if err != nil {
		return "", "", nil, err
	}
	return string(event.Type), event.ID, event.Data.Raw, nil
}

// Ensure interface compliance.
var (
	_ ports.BillingReporter = (*Stripe)(nil)
	_ ports.WebhookVerifier = (*Stripe)(nil)
)
