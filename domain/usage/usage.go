// Package usage defines per-request telemetry events and their pure rollups.
// Events are captured on the hot path; summaries are rebuilt from them by
// periodic jobs, so a rerun for the same period overwrites rather than
// double-counts.
package usage

import (
	"sort"
	"time"
)

// DailyHour marks a summary as covering a whole day rather than one hour.
const DailyHour = -1

// Event is one recorded request. Identifier is the quota identifier of the
// caller, so anonymous traffic aggregates under its "ip_" key.
type Event struct {
	ID            string
	Identifier    string
	EndpointClass string
	Path          string
	Provider      string
	Source        string // live, cache, coalesced
	Status        int
	ErrorCode     string
	LatencyMS     int64
	Charged       bool
	At            time.Time
}

// Succeeded reports whether the event counts toward successful_requests.
func (e Event) Succeeded() bool {
	return e.Status >= 200 && e.Status < 400
}

// Summary is an aggregate over one identifier and one hour, or one day when
// Hour is DailyHour.
type Summary struct {
	Identifier   string
	Date         string // 2006-01-02, UTC
	Hour         int
	Total        int64
	Succeeded    int64
	Failed       int64
	CacheHits    int64
	Charged      int64
	AvgLatencyMS float64
}

// Key identifies a summary row for idempotent upserts.
type Key struct {
	Identifier string
	Date       string
	Hour       int
}

// Key returns the summary's upsert key.
func (s Summary) Key() Key {
	return Key{Identifier: s.Identifier, Date: s.Date, Hour: s.Hour}
}

// AggregateHourly folds events into per-identifier hourly summaries. Events
// outside a single hour are still grouped correctly; callers normally pass
// one hour's worth. This is a pure function.
func AggregateHourly(events []Event) []Summary {
	acc := make(map[Key]*Summary)
	latency := make(map[Key]int64)

	for _, e := range events {
		at := e.At.UTC()
		k := Key{Identifier: e.Identifier, Date: at.Format("2006-01-02"), Hour: at.Hour()}
		s, ok := acc[k]
		if !ok {
			s = &Summary{Identifier: k.Identifier, Date: k.Date, Hour: k.Hour}
			acc[k] = s
		}
		s.Total++
		if e.Succeeded() {
			s.Succeeded++
		} else {
			s.Failed++
		}
		if e.Source != "live" && e.Source != "" {
			s.CacheHits++
		}
		if e.Charged {
			s.Charged++
		}
		latency[k] += e.LatencyMS
	}

	out := make([]Summary, 0, len(acc))
	for k, s := range acc {
		if s.Total > 0 {
			s.AvgLatencyMS = float64(latency[k]) / float64(s.Total)
		}
		out = append(out, *s)
	}
	sortSummaries(out)
	return out
}

// AggregateDaily folds hourly summaries into per-identifier daily summaries.
// Non-hourly inputs are ignored so a rerun over mixed rows stays correct.
// This is a pure function.
func AggregateDaily(hourly []Summary) []Summary {
	acc := make(map[Key]*Summary)
	weighted := make(map[Key]float64)

	for _, h := range hourly {
		if h.Hour == DailyHour {
			continue
		}
		k := Key{Identifier: h.Identifier, Date: h.Date, Hour: DailyHour}
		s, ok := acc[k]
		if !ok {
			s = &Summary{Identifier: k.Identifier, Date: k.Date, Hour: DailyHour}
			acc[k] = s
		}
		s.Total += h.Total
		s.Succeeded += h.Succeeded
		s.Failed += h.Failed
		s.CacheHits += h.CacheHits
		s.Charged += h.Charged
		weighted[k] += h.AvgLatencyMS * float64(h.Total)
	}

	out := make([]Summary, 0, len(acc))
	for k, s := range acc {
		if s.Total > 0 {
			s.AvgLatencyMS = weighted[k] / float64(s.Total)
		}
		out = append(out, *s)
	}
	sortSummaries(out)
	return out
}

func sortSummaries(s []Summary) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Identifier != s[j].Identifier {
			return s[i].Identifier < s[j].Identifier
		}
		if s[i].Date != s[j].Date {
			return s[i].Date < s[j].Date
		}
		return s[i].Hour < s[j].Hour
	})
}
