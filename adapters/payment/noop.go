package payment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/saas2guys/fingate/ports"
)

// Noop is used when no payment provider is configured. Usage reports are
// logged and dropped; webhooks are parsed without signature verification,
// which is acceptable only in the local environment.
type Noop struct {
	log zerolog.Logger
}

// NewNoop creates a no-op payment adapter.
func NewNoop(log zerolog.Logger) *Noop {
	return &Noop{log: log}
}

// ReportUsage logs the report and discards it.
func (p *Noop) ReportUsage(ctx context.Context, subscriptionItemID string, quantity int64, at time.Time) error {
	p.log.Info().
		Str("subscription_item", subscriptionItemID).
		Int64("quantity", quantity).
		Time("at", at).
		Msg("usage report discarded (no payment provider)")
	return nil
}

// Verify parses the event without checking any signature.
func (p *Noop) Verify(payload []byte, signature string) (string, string, []byte, error) {
	var event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", "", nil, err
	}
	return event.Type, event.ID, event.Data.Object, nil
}

// Ensure interface compliance.
var (
	_ ports.BillingReporter = (*Noop)(nil)
	_ ports.WebhookVerifier = (*Noop)(nil)
)
