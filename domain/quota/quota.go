package quota

import (
	"time"

	"github.com/saas2guys/fingate/domain/principal"
)

// Reasons for denial.
const (
	ReasonSubscriptionInactive = "subscription_inactive"
	ReasonPaymentBlocked       = "payment_blocked"
	ReasonQuotaExceeded        = "quota_exceeded"
)

// Counts holds the observed counter value per window before this request.
type Counts map[Window]int64

// Decision is the outcome of an admission check (value type).
type Decision struct {
	Allowed        bool
	Reason         string // one of the Reason constants when denied
	ExceededWindow Window // set when Reason is ReasonQuotaExceeded
	RetryAfter     int    // seconds until the exceeded window rolls

	// Effective limits and remaining capacity per window, after any
	// restriction scaling. Zero limit means unbounded. Reset holds whole
	// seconds until each window rolls over.
	Limits    map[Window]int64
	Remaining map[Window]int64
	Reset     map[Window]int

	// Warning is set when the principal carries a payment warning; the
	// request is admitted but the response gets a warning header.
	Warning bool
}

// EffectiveLimit scales a plan limit by the principal's restriction level.
// A limited principal gets a tenth of every limit, floored at 1. Zero limits
// stay unbounded.
func EffectiveLimit(limit int64, r principal.RestrictionLevel) int64 {
	if limit <= 0 {
		return 0
	}
	if r == principal.RestrictionLimited {
		scaled := limit / 10
		if scaled < 1 {
			scaled = 1
		}
		return scaled
	}
	return limit
}

// planLimit returns the raw plan limit for a window.
func planLimit(p principal.PlanSnapshot, w Window) int64 {
	switch w {
	case WindowMinute:
		return p.BurstLimit
	case WindowHour:
		return p.HourlyLimit
	case WindowDay:
		return p.DailyLimit
	case WindowMonth:
		return p.MonthlyLimit
	}
	return 0
}

// Admit decides whether a request is admitted given the counter values
// observed for each window. This is a PURE function: the caller reads the
// counters first and increments them only when the decision allows.
//
// Gate order follows the billing rules: subscription state and restriction
// level are checked before any window, so blocked principals never consume
// quota reads. Free plans are exempt from payment-failure restrictions.
func Admit(pr principal.Principal, counts Counts, now time.Time) Decision {
	d := Decision{
		Limits:    make(map[Window]int64, 4),
		Remaining: make(map[Window]int64, 4),
		Reset:     make(map[Window]int, 4),
	}

	if !pr.SubscriptionUsable() {
		d.Reason = ReasonSubscriptionInactive
		return d
	}

	restriction := pr.RestrictionLevel
	if pr.Plan.IsFree() {
		restriction = principal.RestrictionNone
	}

	switch restriction {
	case principal.RestrictionBlocked:
		d.Reason = ReasonPaymentBlocked
		return d
	case principal.RestrictionWarning:
		d.Warning = true
	}

	windows := append([]Window{WindowMinute}, LimitWindows...)
	for _, w := range windows {
		limit := EffectiveLimit(planLimit(pr.Plan, w), restriction)
		d.Limits[w] = limit
		d.Reset[w] = SecondsToReset(now, w)
		count := counts[w]

		if limit > 0 && count+1 > limit {
			d.Reason = ReasonQuotaExceeded
			d.ExceededWindow = w
			d.RetryAfter = SecondsToReset(now, w)
			d.Remaining[w] = 0
			return d
		}

		if limit > 0 {
			d.Remaining[w] = limit - count - 1
		}
	}

	d.Allowed = true
	return d
}
