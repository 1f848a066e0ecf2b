package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/saas2guys/fingate/domain/billing"
	"github.com/saas2guys/fingate/domain/principal"
	"github.com/saas2guys/fingate/ports"
)

// paymentCorrelationWindow is how long a payment_succeeded event vouches for
// a subscription_created that arrives out of order for the same customer.
const paymentCorrelationWindow = 5 * time.Second

// BillingWebhookService applies verified payment-provider events to
// principals. Events are idempotent by provider event ID, and events for the
// same principal are serialized so out-of-order deliveries cannot interleave.
type BillingWebhookService struct {
	principals ports.PrincipalStore
	plans      ports.PlanStore
	events     ports.BillingEventStore
	verifier   ports.WebhookVerifier
	clock      ports.Clock
	log        zerolog.Logger

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	recent map[string]time.Time // customer id -> last payment_succeeded
}

// BillingWebhookDeps contains dependencies for BillingWebhookService.
type BillingWebhookDeps struct {
	Principals ports.PrincipalStore
	Plans      ports.PlanStore
	Events     ports.BillingEventStore
	Verifier   ports.WebhookVerifier
	Clock      ports.Clock
	Log        zerolog.Logger
}

// NewBillingWebhookService creates a webhook service.
func NewBillingWebhookService(deps BillingWebhookDeps) *BillingWebhookService {
	return &BillingWebhookService{
		principals: deps.Principals,
		plans:      deps.Plans,
		events:     deps.Events,
		verifier:   deps.Verifier,
		clock:      deps.Clock,
		log:        deps.Log,
		locks:      make(map[string]*sync.Mutex),
		recent:     make(map[string]time.Time),
	}
}

// invoiceEvent is the subset of an invoice payload the service reads.
type invoiceEvent struct {
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
}

// subscriptionEvent is the subset of a subscription payload the service reads.
type subscriptionEvent struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Items            struct {
		Data []struct {
			ID    string `json:"id"`
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// HandleEvent verifies and applies one raw webhook delivery. Unknown event
// types and events for unknown customers are acknowledged without effect so
// the provider does not retry them forever.
func (s *BillingWebhookService) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	eventType, eventID, object, err := s.verifier.Verify(payload, signature)
	if err != nil {
		return err
	}

	seen, err := s.events.Seen(ctx, eventID)
	if err != nil {
		return err
	}
	if seen {
		s.log.Debug().Str("event", eventID).Msg("duplicate webhook delivery ignored")
		return nil
	}

	switch eventType {
	case "invoice.payment_succeeded":
		err = s.applyInvoice(ctx, object, billing.EventPaymentSucceeded)
	case "invoice.payment_failed":
		err = s.applyInvoice(ctx, object, billing.EventPaymentFailed)
	case "customer.subscription.created", "customer.subscription.updated":
		err = s.applySubscription(ctx, object, eventType == "customer.subscription.created")
	case "customer.subscription.deleted":
		err = s.applyDeleted(ctx, object)
	default:
		s.log.Debug().Str("type", eventType).Msg("unhandled webhook type")
	}
	if err != nil {
		return err
	}

	return s.events.MarkSeen(ctx, eventID, s.clock.Now())
}

func (s *BillingWebhookService) applyInvoice(ctx context.Context, object []byte, kind billing.EventKind) error {
	var inv invoiceEvent
	if err := json.Unmarshal(object, &inv); err != nil {
		return err
	}
	if inv.Customer == "" {
		return nil
	}

	if kind == billing.EventPaymentSucceeded {
		s.notePayment(inv.Customer)
	}

	return s.withPrincipal(ctx, inv.Customer, func(p principal.Principal) principal.Principal {
		p.PaymentFailures = billing.NextFailureCount(p.PaymentFailures, kind)
		p.SubscriptionState = billing.NextState(p.SubscriptionState, kind, p.PaymentFailures)
		p.RestrictionLevel = billing.RestrictionFor(p.PaymentFailures)
		return p
	})
}

func (s *BillingWebhookService) applySubscription(ctx context.Context, object []byte, created bool) error {
	var sub subscriptionEvent
	if err := json.Unmarshal(object, &sub); err != nil {
		return err
	}
	if sub.Customer == "" {
		return nil
	}

	state := billing.StateFromProvider(sub.Status)
	// A checkout flow can deliver subscription.created before the paid
	// invoice settles the status. A payment seen moments ago for the same
	// customer means the subscription is live.
	if created && state == principal.SubIncomplete && s.recentPayment(sub.Customer) {
		state = principal.SubActive
	}

	var priceID, itemID string
	if len(sub.Items.Data) > 0 {
		itemID = sub.Items.Data[0].ID
		priceID = sub.Items.Data[0].Price.ID
	}

	var plan principal.PlanSnapshot
	var havePlan bool
	if priceID != "" {
		if fresh, err := s.plans.GetByPriceID(ctx, priceID); err == nil {
			plan, havePlan = fresh, true
		} else {
			s.log.Warn().Err(err).Str("price", priceID).Msg("no plan for subscription price")
		}
	}

	return s.withPrincipal(ctx, sub.Customer, func(p principal.Principal) principal.Principal {
		p.StripeSubscriptionID = sub.ID
		if itemID != "" {
			p.StripeItemID = itemID
		}
		if havePlan {
			p.Plan = plan
			p.SnapshotRefreshedAt = s.clock.Now()
		}
		p.SubscriptionState = state
		if state == principal.SubActive || state == principal.SubTrialing {
			p.PaymentFailures = 0
			p.RestrictionLevel = principal.RestrictionNone
		}
		if sub.CurrentPeriodEnd > 0 {
			p.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		}
		return p
	})
}

func (s *BillingWebhookService) applyDeleted(ctx context.Context, object []byte) error {
	var sub subscriptionEvent
	if err := json.Unmarshal(object, &sub); err != nil {
		return err
	}
	if sub.Customer == "" {
		return nil
	}

	return s.withPrincipal(ctx, sub.Customer, func(p principal.Principal) principal.Principal {
		p.SubscriptionState = billing.NextState(p.SubscriptionState, billing.EventSubscriptionDeleted, p.PaymentFailures)
		p.StripeSubscriptionID = ""
		p.StripeItemID = ""
		p.Plan = principal.FreePlan()
		p.PaymentFailures = 0
		p.RestrictionLevel = principal.RestrictionNone
		p.SnapshotRefreshedAt = s.clock.Now()
		return p
	})
}

// withPrincipal loads the principal for a customer, applies fn under that
// principal's lock and persists the result. Unknown customers are logged and
// skipped.
func (s *BillingWebhookService) withPrincipal(ctx context.Context, customerID string, fn func(principal.Principal) principal.Principal) error {
	lock := s.lockFor(customerID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.principals.GetByCustomer(ctx, customerID)
	if err != nil {
		s.log.Warn().Str("customer", customerID).Msg("webhook for unknown customer")
		return nil
	}

	p = fn(p)
	p.UpdatedAt = s.clock.Now()
	return s.principals.Update(ctx, p)
}

func (s *BillingWebhookService) lockFor(customerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[customerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[customerID] = l
	}
	return l
}

func (s *BillingWebhookService) notePayment(customerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent[customerID] = s.clock.Now()
	// Drop stale entries so the map stays bounded.
	cutoff := s.clock.Now().Add(-paymentCorrelationWindow)
	for c, at := range s.recent {
		if at.Before(cutoff) {
			delete(s.recent, c)
		}
	}
}

func (s *BillingWebhookService) recentPayment(customerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.recent[customerID]
	return ok && s.clock.Now().Sub(at) <= paymentCorrelationWindow
}
