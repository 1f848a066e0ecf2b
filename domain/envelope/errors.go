package envelope

import "fmt"

// Code identifies a failure class surfaced to callers. The set is closed.
type Code string

const (
	CodeAuthInvalid          Code = "AUTH_INVALID"
	CodeCapabilityDenied     Code = "CAPABILITY_DENIED"
	CodeSubscriptionInactive Code = "SUBSCRIPTION_INACTIVE"
	CodePaymentBlocked       Code = "PAYMENT_BLOCKED"
	CodeQuotaExceeded        Code = "QUOTA_EXCEEDED"
	CodeRouteUnknown         Code = "ROUTE_UNKNOWN"
	CodeValidation           Code = "VALIDATION"
	CodeNotFound             Code = "NOT_FOUND"
	CodeUpstreamAuth         Code = "UPSTREAM_AUTH"
	CodeUpstreamUnavailable  Code = "UPSTREAM_UNAVAILABLE"
	CodeTimeout              Code = "TIMEOUT"
	CodeInternal             Code = "INTERNAL"
)

// Error is the tagged failure carried in an envelope (value type).
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// HTTPStatus maps a code to the status returned to the caller.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeAuthInvalid:
		return 401
	case CodeCapabilityDenied:
		return 403
	case CodeSubscriptionInactive, CodePaymentBlocked:
		return 402
	case CodeQuotaExceeded:
		return 429
	case CodeRouteUnknown, CodeNotFound:
		return 404
	case CodeValidation:
		return 400
	case CodeUpstreamAuth, CodeUpstreamUnavailable:
		return 502
	case CodeTimeout:
		return 504
	}
	return 500
}

// Retryable reports whether the caller may usefully retry the same request.
func (c Code) Retryable() bool {
	switch c {
	case CodeQuotaExceeded, CodeUpstreamUnavailable, CodeTimeout:
		return true
	}
	return false
}

// ChargesQuota reports whether a failure with this code still consumes quota.
// Validation and auth failures never touch counters; upstream failures do,
// except UPSTREAM_AUTH which is a provider problem rather than the caller's.
func (c Code) ChargesQuota() bool {
	switch c {
	case CodeAuthInvalid, CodeCapabilityDenied, CodeSubscriptionInactive,
		CodePaymentBlocked, CodeQuotaExceeded, CodeRouteUnknown,
		CodeValidation, CodeUpstreamAuth:
		return false
	}
	return true
}

// Err builds an Error for a code with a formatted message.
func Err(c Code, format string, args ...any) Error {
	return Error{Code: c, Message: fmt.Sprintf(format, args...), Retryable: c.Retryable()}
}

// QuotaExceeded builds the windowed quota error, e.g. QUOTA_EXCEEDED(hour).
func QuotaExceeded(window string) Error {
	return Error{
		Code:      CodeQuotaExceeded,
		Message:   fmt.Sprintf("quota exceeded for the %s window", window),
		Retryable: true,
	}
}
