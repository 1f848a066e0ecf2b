package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/saas2guys/fingate/domain/usage"
	"github.com/saas2guys/fingate/ports"
)

// Retention horizons for the periodic cleanup job.
const (
	counterRetention = 7 * 24 * time.Hour
	eventRetention   = 90 * 24 * time.Hour
	summaryRetention = 365 * 24 * time.Hour
)

const dateLayout = "2006-01-02"

// MaintenanceService runs the periodic jobs: usage rollups, metered billing
// export and retention cleanup. Every job is idempotent, so a crashed or
// doubled run converges to the same stored state.
type MaintenanceService struct {
	usage      ports.UsageStore
	counters   ports.CounterStore
	principals ports.PrincipalStore
	reporter   ports.BillingReporter
	clock      ports.Clock
	log        zerolog.Logger
}

// MaintenanceDeps contains dependencies for MaintenanceService.
type MaintenanceDeps struct {
	Usage      ports.UsageStore
	Counters   ports.CounterStore
	Principals ports.PrincipalStore
	Reporter   ports.BillingReporter
	Clock      ports.Clock
	Log        zerolog.Logger
}

// NewMaintenanceService creates a maintenance service.
func NewMaintenanceService(deps MaintenanceDeps) *MaintenanceService {
	return &MaintenanceService{
		usage:      deps.Usage,
		counters:   deps.Counters,
		principals: deps.Principals,
		reporter:   deps.Reporter,
		clock:      deps.Clock,
		log:        deps.Log,
	}
}

// RollupHour aggregates raw events for the hour containing at into hourly
// summary rows. Re-running replaces the rows rather than double counting.
func (s *MaintenanceService) RollupHour(ctx context.Context, at time.Time) error {
	start := at.UTC().Truncate(time.Hour)
	end := start.Add(time.Hour)

	events, err := s.usage.EventsBetween(ctx, start, end)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	summaries := usage.AggregateHourly(events)
	if err := s.usage.UpsertSummaries(ctx, summaries); err != nil {
		return err
	}
	s.log.Info().Str("hour", start.Format(time.RFC3339)).Int("rows", len(summaries)).Msg("hourly rollup done")
	return nil
}

// RollupDay folds a day's hourly summaries into daily rows.
func (s *MaintenanceService) RollupDay(ctx context.Context, day time.Time) error {
	date := day.UTC().Format(dateLayout)

	hourly, err := s.usage.HourlySummaries(ctx, date)
	if err != nil {
		return err
	}
	if len(hourly) == 0 {
		return nil
	}

	daily := usage.AggregateDaily(hourly)
	if err := s.usage.UpsertSummaries(ctx, daily); err != nil {
		return err
	}
	s.log.Info().Str("date", date).Int("rows", len(daily)).Msg("daily rollup done")
	return nil
}

// ExportMetered reports each metered principal's charged call count for a day
// to the billing provider. The reporter sets the day's quantity rather than
// adding to it, so re-export after a partial failure is safe.
func (s *MaintenanceService) ExportMetered(ctx context.Context, day time.Time) error {
	date := day.UTC().Format(dateLayout)

	metered, err := s.principals.ListMetered(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, p := range metered {
		if p.StripeItemID == "" {
			continue
		}
		summary, ok, err := s.usage.DailySummary(ctx, p.ID, date)
		if err != nil {
			s.log.Error().Err(err).Str("principal", p.ID).Msg("metered export read failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !ok || summary.Charged == 0 {
			continue
		}
		if err := s.reporter.ReportUsage(ctx, p.StripeItemID, summary.Charged, s.clock.Now()); err != nil {
			s.log.Error().Err(err).Str("principal", p.ID).Msg("metered export failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.log.Info().Str("principal", p.ID).Int64("charged", summary.Charged).Str("date", date).Msg("metered usage exported")
	}
	return firstErr
}

// Cleanup deletes expired counters, raw events and summaries.
func (s *MaintenanceService) Cleanup(ctx context.Context) error {
	now := s.clock.Now().UTC()

	counters, err := s.counters.DeleteBefore(ctx, now.Add(-counterRetention))
	if err != nil {
		return err
	}
	events, err := s.usage.DeleteEventsBefore(ctx, now.Add(-eventRetention))
	if err != nil {
		return err
	}
	summaries, err := s.usage.DeleteSummariesBefore(ctx, now.Add(-summaryRetention).Format(dateLayout))
	if err != nil {
		return err
	}
	s.log.Info().
		Int64("counters", counters).
		Int64("events", events).
		Int64("summaries", summaries).
		Msg("retention cleanup done")
	return nil
}

// Start runs the maintenance loop until ctx is canceled. Each hour the
// previous hour is rolled up; after midnight UTC the previous day is also
// folded, exported and expired data cleaned up.
func (s *MaintenanceService) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *MaintenanceService) tick(ctx context.Context) {
	now := s.clock.Now().UTC()
	prevHour := now.Add(-time.Hour)

	if err := s.RollupHour(ctx, prevHour); err != nil {
		s.log.Error().Err(err).Msg("hourly rollup failed")
	}

	if now.Hour() == 0 {
		yesterday := now.AddDate(0, 0, -1)
		if err := s.RollupDay(ctx, yesterday); err != nil {
			s.log.Error().Err(err).Msg("daily rollup failed")
		}
		if err := s.ExportMetered(ctx, yesterday); err != nil {
			s.log.Error().Err(err).Msg("metered export failed")
		}
		if err := s.Cleanup(ctx); err != nil {
			s.log.Error().Err(err).Msg("retention cleanup failed")
		}
	}
}
