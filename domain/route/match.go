package route

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Match is the result of resolving a request path against the table.
type Match struct {
	Route  *Route
	Params map[string]string // hole name -> captured value
}

// Matcher resolves request paths against compiled route patterns.
// Patterns with more literal segments win over patterns with more holes,
// so "quotes/gainers" beats "quotes/{symbol}".
type Matcher struct {
	routes   []Route
	compiled []compiledPattern
}

type compiledPattern struct {
	routeIdx int
	regex    *regexp.Regexp
	holes    []string
}

// Hole classes. Syntactic validation only; whether a symbol exists is the
// provider's call.
var holeClasses = map[string]string{
	"symbol":    `[A-Za-z0-9.:\-^]+`,
	"symbols":   `[A-Za-z0-9.:\-^,]+`,
	"pair":      `[A-Za-z]{6,8}`,
	"contract":  `[A-Za-z0-9.:\-]+`,
	"date":      `\d{4}-\d{2}-\d{2}`,
	"interval":  `\d*[a-z]+`,
	"timespan":  `\d*[a-z]+`,
	"period":    `(annual|quarter)`,
	"year":      `\d{4}`,
	"quarter":   `[1-4]`,
	"indicator": `[a-z\-]+`,
}

var holeRe = regexp.MustCompile(`\{([^}]+)\}`)

// NewMatcher compiles the given routes. Patterns are sorted by literal
// specificity so matching is deterministic regardless of table order.
func NewMatcher(routes []Route) (*Matcher, error) {
	sorted := make([]Route, len(routes))
	copy(sorted, routes)
	sort.Slice(sorted, func(i, j int) bool {
		li, lj := literalSegments(sorted[i].Pattern), literalSegments(sorted[j].Pattern)
		if li != lj {
			return li > lj
		}
		return sorted[i].Pattern > sorted[j].Pattern
	})

	m := &Matcher{routes: sorted}
	for i, r := range sorted {
		cp, err := compilePattern(r.Pattern, i)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", r.Pattern, err)
		}
		m.compiled = append(m.compiled, cp)
	}
	return m, nil
}

func literalSegments(pattern string) int {
	n := 0
	for _, seg := range strings.Split(pattern, "/") {
		if seg != "" && !strings.Contains(seg, "{") {
			n++
		}
	}
	return n
}

func compilePattern(pattern string, routeIdx int) (compiledPattern, error) {
	cp := compiledPattern{routeIdx: routeIdx}

	// Table patterns contain only letters, digits, '/', '-' and holes,
	// so the literal parts need no escaping.
	expr := "^" + holeRe.ReplaceAllStringFunc(pattern, func(s string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
		cp.holes = append(cp.holes, name)
		class, ok := holeClasses[name]
		if !ok {
			class = `[^/]+`
		}
		return "(?P<" + name + ">" + class + ")"
	}) + "$"

	re, err := regexp.Compile(expr)
	if err != nil {
		return cp, err
	}
	cp.regex = re
	return cp, nil
}

// Match resolves a path (relative to the API prefix, no leading slash) to a
// route. Returns nil when no pattern matches.
func (m *Matcher) Match(path string) *Match {
	path = strings.Trim(path, "/")
	for _, cp := range m.compiled {
		sub := cp.regex.FindStringSubmatch(path)
		if sub == nil {
			continue
		}
		params := make(map[string]string, len(cp.holes))
		for i, name := range cp.regex.SubexpNames() {
			if name != "" && i < len(sub) {
				params[name] = sub[i]
			}
		}
		return &Match{Route: &m.routes[cp.routeIdx], Params: params}
	}
	return nil
}

// Routes returns the compiled table in match order, for the endpoint listing.
func (m *Matcher) Routes() []Route {
	return m.routes
}
