package envelope

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSuccessShape(t *testing.T) {
	meta := Stamp(Metadata{Provider: "fmp", Source: SourceLive, EndpointClass: "quotes"},
		time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	env := Success(json.RawMessage(`{"price":187.4}`), meta)

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["status"] != "success" {
		t.Errorf("status = %v", decoded["status"])
	}
	if _, ok := decoded["error"]; ok {
		t.Error("success envelope should omit error")
	}
	md := decoded["metadata"].(map[string]any)
	if md["provider"] != "fmp" || md["ts"] != "2025-06-15T12:00:00Z" {
		t.Errorf("metadata = %v", md)
	}
}

func TestFailureShape(t *testing.T) {
	env := Failure(Err(CodeRouteUnknown, "no route for %s", "/api/v1/nope"), Metadata{})

	if env.Status != "error" || env.Error == nil {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.Error.Code != CodeRouteUnknown || env.Error.Retryable {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestWithCacheAge(t *testing.T) {
	meta := WithCacheAge(Metadata{Provider: "polygon"}, 42*time.Second)
	if meta.Source != SourceCache {
		t.Errorf("source = %q", meta.Source)
	}
	if meta.CacheAgeSecs == nil || *meta.CacheAgeSecs != 42 {
		t.Errorf("cache age = %v", meta.CacheAgeSecs)
	}
}

func TestCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeAuthInvalid, 401},
		{CodeCapabilityDenied, 403},
		{CodeSubscriptionInactive, 402},
		{CodePaymentBlocked, 402},
		{CodeQuotaExceeded, 429},
		{CodeRouteUnknown, 404},
		{CodeValidation, 400},
		{CodeNotFound, 404},
		{CodeUpstreamAuth, 502},
		{CodeUpstreamUnavailable, 502},
		{CodeTimeout, 504},
		{CodeInternal, 500},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Errorf("%s -> %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestChargesQuota(t *testing.T) {
	if CodeAuthInvalid.ChargesQuota() {
		t.Error("auth failures must not touch quota")
	}
	if CodeUpstreamAuth.ChargesQuota() {
		t.Error("provider credential failures must not charge the caller")
	}
	if !CodeUpstreamUnavailable.ChargesQuota() {
		t.Error("exhausted providers still consumed routing capacity")
	}
	if !CodeTimeout.ChargesQuota() {
		t.Error("timeouts still consumed routing capacity")
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Outcome
	}{
		{200, OutcomeSuccess},
		{204, OutcomeSuccess},
		{404, OutcomeNotFound},
		{401, OutcomeAuth},
		{403, OutcomeAuth},
		{400, OutcomeClientError},
		{408, OutcomeRetryable},
		{425, OutcomeRetryable},
		{429, OutcomeRetryable},
		{500, OutcomeRetryable},
		{503, OutcomeRetryable},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
