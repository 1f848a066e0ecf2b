package envelope

// Outcome classifies an upstream HTTP result for retry and fallback purposes.
type Outcome int

const (
	OutcomeSuccess     Outcome = iota // 2xx
	OutcomeNotFound                   // deterministic 404; never retried, never fallen back
	OutcomeAuth                       // 401/403 from the provider; alert, do not retry
	OutcomeClientError                // other 4xx; deterministic, surfaced as validation
	OutcomeRetryable                  // 408/425/429/5xx and transport failures
)

// ClassifyStatus maps an upstream status code to an outcome.
func ClassifyStatus(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status == 404:
		return OutcomeNotFound
	case status == 401 || status == 403:
		return OutcomeAuth
	case status == 408 || status == 425 || status == 429 || status >= 500:
		return OutcomeRetryable
	}
	return OutcomeClientError
}
