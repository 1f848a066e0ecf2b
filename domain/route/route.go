// Package route holds the static routing table and pure matching functions.
// A route maps a public path pattern to an ordered list of provider targets
// plus the cache class and capability requirements for that endpoint.
package route

import (
	"net/url"
	"strings"
	"time"

	"github.com/saas2guys/fingate/domain/principal"
)

// CacheClass names a TTL tier. The tier is fixed per route, not per response.
type CacheClass string

const (
	CacheRealTime    CacheClass = "real_time"
	CacheIntraday    CacheClass = "intraday"
	CacheDaily       CacheClass = "daily"
	CacheNews        CacheClass = "news"
	CacheFundamental CacheClass = "fundamental"
	CacheStatic      CacheClass = "static"
)

// TTL returns the freshness window for the class.
func (c CacheClass) TTL() time.Duration {
	switch c {
	case CacheRealTime:
		return 30 * time.Second
	case CacheIntraday:
		return 5 * time.Minute
	case CacheDaily:
		return time.Hour
	case CacheNews:
		return 30 * time.Minute
	case CacheFundamental:
		return 24 * time.Hour
	case CacheStatic:
		return 7 * 24 * time.Hour
	}
	return time.Minute
}

// Target is one provider candidate for a route. Path is the upstream path
// template; holes in it (and in Params values) are filled from the matched
// request path.
type Target struct {
	Provider string
	Path     string
	Params   map[string]string
}

// Route is an immutable routing rule. Targets are ordered by preference;
// later targets are tried only on retryable failures of earlier ones.
type Route struct {
	Pattern      string
	Targets      []Target
	Cache        CacheClass
	Requires     []principal.Capability
	VariesByTier bool
}

// Class returns the endpoint family used for quota and usage keying.
// It is the first segment of the pattern.
func (r Route) Class() string {
	p := strings.TrimPrefix(r.Pattern, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}

// Providers returns the ordered provider names of the route's targets.
func (r Route) Providers() []string {
	out := make([]string, len(r.Targets))
	for i, t := range r.Targets {
		out[i] = t.Provider
	}
	return out
}

// Allowed reports whether the principal's capabilities cover the route.
func (r Route) Allowed(pr principal.Principal) bool {
	return pr.Plan.HasAll(r.Requires)
}

// Expand fills a target's path template and extra query parameters from the
// path parameters captured during matching. Unfilled holes are left intact;
// the upstream rejects them and the caller sees a validation error.
func (t Target) Expand(params map[string]string) (string, url.Values) {
	path := t.Path
	for name, val := range params {
		path = strings.ReplaceAll(path, "{"+name+"}", val)
	}

	query := url.Values{}
	for key, tmpl := range t.Params {
		val := tmpl
		for name, pv := range params {
			val = strings.ReplaceAll(val, "{"+name+"}", pv)
		}
		query.Set(key, val)
	}
	return path, query
}
