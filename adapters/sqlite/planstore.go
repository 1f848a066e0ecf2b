package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/saas2guys/fingate/domain/principal"
	"github.com/saas2guys/fingate/ports"
)

// PlanStore implements ports.PlanStore using SQLite.
type PlanStore struct {
	db *DB
}

// NewPlanStore creates a new SQLite plan store.
func NewPlanStore(db *DB) *PlanStore {
	return &PlanStore{db: db}
}

const planColumns = `
	id, name, hourly_limit, daily_limit, monthly_limit, burst_limit,
	price_monthly, is_metered, stripe_price_id, capabilities`

// Get retrieves a plan by ID.
func (s *PlanStore) Get(ctx context.Context, id string) (principal.PlanSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+planColumns+` FROM plans WHERE id = ?`, id)
	return scanPlan(row)
}

// GetByPriceID retrieves a plan by payment-provider price ID.
func (s *PlanStore) GetByPriceID(ctx context.Context, priceID string) (principal.PlanSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+planColumns+` FROM plans WHERE stripe_price_id = ?`, priceID)
	return scanPlan(row)
}

// List returns all plans.
func (s *PlanStore) List(ctx context.Context) ([]principal.PlanSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT`+planColumns+` FROM plans ORDER BY price_monthly`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []principal.PlanSnapshot
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Upsert stores or replaces a plan, for seeding and admin updates.
func (s *PlanStore) Upsert(ctx context.Context, p principal.PlanSnapshot) error {
	caps, err := json.Marshal(capStrings(p.Capabilities))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			hourly_limit = excluded.hourly_limit,
			daily_limit = excluded.daily_limit,
			monthly_limit = excluded.monthly_limit,
			burst_limit = excluded.burst_limit,
			price_monthly = excluded.price_monthly,
			is_metered = excluded.is_metered,
			stripe_price_id = excluded.stripe_price_id,
			capabilities = excluded.capabilities
	`, p.PlanID, p.Name, p.HourlyLimit, p.DailyLimit, p.MonthlyLimit, p.BurstLimit,
		p.PriceMonthly, p.IsMetered, p.StripePriceID, string(caps))
	return err
}

func scanPlan(row rowScanner) (principal.PlanSnapshot, error) {
	var p principal.PlanSnapshot
	var caps string
	err := row.Scan(&p.PlanID, &p.Name, &p.HourlyLimit, &p.DailyLimit, &p.MonthlyLimit,
		&p.BurstLimit, &p.PriceMonthly, &p.IsMetered, &p.StripePriceID, &caps)
	if err == sql.ErrNoRows {
		return principal.PlanSnapshot{}, ErrNotFound
	}
	if err != nil {
		return principal.PlanSnapshot{}, err
	}

	var names []string
	if err := json.Unmarshal([]byte(caps), &names); err != nil {
		return principal.PlanSnapshot{}, fmt.Errorf("decode capabilities: %w", err)
	}
	p.Capabilities = make([]principal.Capability, len(names))
	for i, n := range names {
		p.Capabilities[i] = principal.Capability(n)
	}
	return p, nil
}

func capStrings(caps []principal.Capability) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	return out
}

// Ensure interface compliance.
var _ ports.PlanStore = (*PlanStore)(nil)
