// Package principal defines the authenticated identity attached to a request
// and the plan snapshot it carries. All functions are pure.
package principal

import "time"

// SubscriptionState tracks the billing lifecycle of a principal.
type SubscriptionState string

const (
	SubActive     SubscriptionState = "active"
	SubTrialing   SubscriptionState = "trialing"
	SubPastDue    SubscriptionState = "past_due"
	SubIncomplete SubscriptionState = "incomplete"
	SubCanceled   SubscriptionState = "canceled"
	SubUnpaid     SubscriptionState = "unpaid"
	SubInactive   SubscriptionState = "inactive"
)

// RestrictionLevel is the throttling state derived from payment status.
type RestrictionLevel string

const (
	RestrictionNone    RestrictionLevel = "none"
	RestrictionWarning RestrictionLevel = "warning"
	RestrictionLimited RestrictionLevel = "limited"
	RestrictionBlocked RestrictionLevel = "blocked"
)

// Capability is a named feature flag a plan may grant.
type Capability string

const (
	CapOptions      Capability = "options"
	CapFundamentals Capability = "fundamentals"
	CapRealtime     Capability = "realtime"
	CapGlobal       Capability = "global"
	CapTechnical    Capability = "technical"
)

// PlanSnapshot is the immutable copy of plan limits handed to each request.
// A zero limit means unbounded.
type PlanSnapshot struct {
	PlanID        string
	Name          string
	HourlyLimit   int64
	DailyLimit    int64
	MonthlyLimit  int64
	BurstLimit    int64
	PriceMonthly  int64 // cents
	IsMetered     bool
	StripePriceID string
	Capabilities  []Capability
}

// IsFree reports whether the plan is a free plan. Free plans are exempt from
// payment-failure restrictions.
func (p PlanSnapshot) IsFree() bool {
	return p.PriceMonthly == 0
}

// HasCapability reports whether the plan grants the given capability.
func (p PlanSnapshot) HasCapability(c Capability) bool {
	for _, have := range p.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// HasAll reports whether the plan grants every capability in want.
func (p PlanSnapshot) HasAll(want []Capability) bool {
	for _, c := range want {
		if !p.HasCapability(c) {
			return false
		}
	}
	return true
}

// Principal is the identity resolved for a request.
type Principal struct {
	ID        string
	Email     string
	Anonymous bool   // true for the open-environment IP-keyed principal
	IP        string // quota identifier for anonymous principals

	// Opaque request-token credential.
	RequestToken      string
	TokenExpiry       time.Time
	TokenNeverExpires bool
	PreviousTokens    []string // kept for audit; never valid for auth

	Plan              PlanSnapshot
	SubscriptionState SubscriptionState
	RestrictionLevel  RestrictionLevel
	PaymentFailures   int // consecutive failures since the last successful payment

	StripeCustomerID     string
	StripeSubscriptionID string
	StripeItemID         string

	Suspended          bool
	PeriodEnd          time.Time
	SnapshotRefreshedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// QuotaIdentifier returns the key counters are charged against:
// the principal id, or "ip_<addr>" for anonymous principals.
func (p Principal) QuotaIdentifier() string {
	if p.Anonymous {
		return "ip_" + p.IP
	}
	return p.ID
}

// TokenValid reports whether the current opaque token is usable at now.
func (p Principal) TokenValid(now time.Time) bool {
	if p.RequestToken == "" {
		return false
	}
	if p.TokenNeverExpires {
		return true
	}
	if p.TokenExpiry.IsZero() {
		return false
	}
	return now.Before(p.TokenExpiry)
}

// SubscriptionUsable reports whether the subscription admits traffic at all.
// Free plans are always usable; canceled and unpaid subscriptions are not.
func (p Principal) SubscriptionUsable() bool {
	if p.Plan.IsFree() {
		return true
	}
	switch p.SubscriptionState {
	case SubCanceled, SubUnpaid:
		return false
	}
	return true
}

// MaxTokenHistory bounds the audit trail of rotated tokens.
const MaxTokenHistory = 10

// RotateToken returns a copy of p carrying the new opaque token, with the old
// token pushed onto the bounded history.
func RotateToken(p Principal, newToken string, expiry time.Time, now time.Time) Principal {
	if p.RequestToken != "" {
		p.PreviousTokens = append(p.PreviousTokens, p.RequestToken)
		if len(p.PreviousTokens) > MaxTokenHistory {
			p.PreviousTokens = p.PreviousTokens[len(p.PreviousTokens)-MaxTokenHistory:]
		}
	}
	p.RequestToken = newToken
	p.TokenExpiry = expiry
	p.UpdatedAt = now
	return p
}

// HadToken reports whether tok appears in the principal's token history.
func (p Principal) HadToken(tok string) bool {
	for _, old := range p.PreviousTokens {
		if old == tok {
			return true
		}
	}
	return false
}

// FreePlan is the snapshot assigned to anonymous principals in open
// environments. Limits mirror the documented anonymous tier.
func FreePlan() PlanSnapshot {
	return PlanSnapshot{
		PlanID:       "free",
		Name:         "Free",
		HourlyLimit:  50,
		DailyLimit:   500,
		MonthlyLimit: 3000,
		BurstLimit:   5,
		PriceMonthly: 0,
		Capabilities: []Capability{CapFundamentals, CapGlobal},
	}
}

// AnonymousPrincipal returns the principal used for unauthenticated requests
// when the environment is open. Quota is keyed by IP.
func AnonymousPrincipal(ip string) Principal {
	return Principal{
		ID:                "anonymous",
		Anonymous:         true,
		IP:                ip,
		Plan:              FreePlan(),
		SubscriptionState: SubActive,
		RestrictionLevel:  RestrictionNone,
	}
}
