// Package billing holds the pure subscription lifecycle and payment
// restriction rules. Event handling, idempotency and persistence live in the
// application layer; everything here is a function of its inputs.
package billing

import "github.com/saas2guys/fingate/domain/principal"

// EventKind names a subscription lifecycle notification.
type EventKind string

const (
	EventPaymentSucceeded    EventKind = "payment_succeeded"
	EventPaymentFailed       EventKind = "payment_failed"
	EventSubscriptionCreated EventKind = "subscription_created"
	EventSubscriptionUpdated EventKind = "subscription_updated"
	EventSubscriptionDeleted EventKind = "subscription_deleted"
)

// UnpaidAfterFailures is the consecutive-failure count at which a past_due
// subscription is written off as unpaid.
const UnpaidAfterFailures = 3

// NextState advances the subscription state machine. failures is the count
// of consecutive payment failures including the event being applied.
func NextState(cur principal.SubscriptionState, kind EventKind, failures int) principal.SubscriptionState {
	switch kind {
	case EventSubscriptionDeleted:
		return principal.SubCanceled

	case EventPaymentSucceeded:
		switch cur {
		case principal.SubIncomplete, principal.SubPastDue, principal.SubUnpaid:
			return principal.SubActive
		}
		return cur

	case EventPaymentFailed:
		switch cur {
		case principal.SubActive, principal.SubTrialing:
			return principal.SubPastDue
		case principal.SubPastDue:
			if failures >= UnpaidAfterFailures {
				return principal.SubUnpaid
			}
			return principal.SubPastDue
		}
		return cur
	}
	return cur
}

// NextFailureCount updates the consecutive-failure counter for an event.
func NextFailureCount(cur int, kind EventKind) int {
	switch kind {
	case EventPaymentFailed:
		return cur + 1
	case EventPaymentSucceeded:
		return 0
	}
	return cur
}

// RestrictionFor maps a consecutive-failure count to the throttle applied to
// paid principals. One failure warns, two cut limits to a tenth, three or
// more block entirely until a payment lands.
func RestrictionFor(failures int) principal.RestrictionLevel {
	switch {
	case failures <= 0:
		return principal.RestrictionNone
	case failures == 1:
		return principal.RestrictionWarning
	case failures == 2:
		return principal.RestrictionLimited
	}
	return principal.RestrictionBlocked
}

// StateFromProvider maps a payment provider's subscription status string to
// the internal state. Unknown statuses stay inactive rather than guessing.
func StateFromProvider(status string) principal.SubscriptionState {
	switch status {
	case "active":
		return principal.SubActive
	case "trialing":
		return principal.SubTrialing
	case "past_due":
		return principal.SubPastDue
	case "incomplete", "incomplete_expired":
		return principal.SubIncomplete
	case "canceled":
		return principal.SubCanceled
	case "unpaid":
		return principal.SubUnpaid
	}
	return principal.SubInactive
}
