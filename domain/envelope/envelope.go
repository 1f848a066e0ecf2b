// Package envelope defines the normalized response container returned to
// callers and the closed error-code set. Provider payloads are passed through
// verbatim inside Data; only the outer shape is unified.
package envelope

import (
	"encoding/json"
	"time"
)

// Source describes where the payload came from.
const (
	SourceLive      = "live"
	SourceCache     = "cache"
	SourceCoalesced = "coalesced"
)

// Metadata carries provenance for a response.
type Metadata struct {
	Provider      string `json:"provider,omitempty"`
	Source        string `json:"source,omitempty"`
	Timestamp     string `json:"ts"`
	EndpointClass string `json:"endpoint_class,omitempty"`
	CacheAgeSecs  *int64 `json:"cache_age_s,omitempty"`
}

// Envelope is the unified response shape for every API call.
type Envelope struct {
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata"`
	Error    *Error          `json:"error,omitempty"`
}

// Success wraps a provider payload.
func Success(data json.RawMessage, meta Metadata) Envelope {
	return Envelope{Status: "success", Data: data, Metadata: meta}
}

// Failure wraps an error.
func Failure(err Error, meta Metadata) Envelope {
	return Envelope{Status: "error", Data: nil, Metadata: meta, Error: &err}
}

// Stamp fills the metadata timestamp from t.
func Stamp(meta Metadata, t time.Time) Metadata {
	meta.Timestamp = t.UTC().Format(time.RFC3339)
	return meta
}

// WithCacheAge returns meta marked as served from cache with the given age.
func WithCacheAge(meta Metadata, age time.Duration) Metadata {
	secs := int64(age.Seconds())
	meta.Source = SourceCache
	meta.CacheAgeSecs = &secs
	return meta
}
