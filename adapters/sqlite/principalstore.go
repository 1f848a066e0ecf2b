package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/saas2guys/fingate/domain/principal"
	"github.com/saas2guys/fingate/ports"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// PrincipalStore implements ports.PrincipalStore using SQLite.
type PrincipalStore struct {
	db *DB
}

// NewPrincipalStore creates a new SQLite principal store.
func NewPrincipalStore(db *DB) *PrincipalStore {
	return &PrincipalStore{db: db}
}

const principalColumns = `
	id, email, request_token, token_expiry, token_never_expires, previous_tokens,
	plan_snapshot, subscription_state, restriction_level, payment_failures,
	stripe_customer_id, stripe_subscription_id, stripe_item_id,
	suspended, period_end, snapshot_refreshed_at, created_at, updated_at`

// Get retrieves a principal by ID.
func (s *PrincipalStore) Get(ctx context.Context, id string) (principal.Principal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+principalColumns+` FROM principals WHERE id = ?`, id)
	return scanPrincipal(row)
}

// GetByToken retrieves a principal by its current opaque request token.
func (s *PrincipalStore) GetByToken(ctx context.Context, token string) (principal.Principal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+principalColumns+` FROM principals WHERE request_token = ?`, token)
	return scanPrincipal(row)
}

// GetByCustomer retrieves a principal by payment-provider customer ID.
func (s *PrincipalStore) GetByCustomer(ctx context.Context, customerID string) (principal.Principal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+principalColumns+` FROM principals WHERE stripe_customer_id = ?`, customerID)
	return scanPrincipal(row)
}

// Create stores a new principal.
func (s *PrincipalStore) Create(ctx context.Context, p principal.Principal) error {
	prev, plan, err := encodePrincipal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO principals (`+principalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Email, p.RequestToken, nullTime(p.TokenExpiry), p.TokenNeverExpires, prev,
		plan, string(p.SubscriptionState), string(p.RestrictionLevel), p.PaymentFailures,
		p.StripeCustomerID, p.StripeSubscriptionID, p.StripeItemID,
		p.Suspended, nullTime(p.PeriodEnd), nullTime(p.SnapshotRefreshedAt), p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	return err
}

// Update modifies an existing principal.
func (s *PrincipalStore) Update(ctx context.Context, p principal.Principal) error {
	prev, plan, err := encodePrincipal(p)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE principals SET
			email = ?, request_token = ?, token_expiry = ?, token_never_expires = ?,
			previous_tokens = ?, plan_snapshot = ?, subscription_state = ?,
			restriction_level = ?, payment_failures = ?, stripe_customer_id = ?,
			stripe_subscription_id = ?, stripe_item_id = ?, suspended = ?,
			period_end = ?, snapshot_refreshed_at = ?, updated_at = ?
		WHERE id = ?
	`, p.Email, p.RequestToken, nullTime(p.TokenExpiry), p.TokenNeverExpires,
		prev, plan, string(p.SubscriptionState),
		string(p.RestrictionLevel), p.PaymentFailures, p.StripeCustomerID,
		p.StripeSubscriptionID, p.StripeItemID, p.Suspended,
		nullTime(p.PeriodEnd), nullTime(p.SnapshotRefreshedAt), p.UpdatedAt.UTC(), p.ID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMetered returns principals on metered plans.
func (s *PrincipalStore) ListMetered(ctx context.Context) ([]principal.Principal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+principalColumns+` FROM principals
		WHERE json_extract(plan_snapshot, '$.is_metered') = 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []principal.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (principal.Principal, error) {
	var p principal.Principal
	var prev, plan, subState, restriction string
	var tokenExpiry, periodEnd, refreshedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.Email, &p.RequestToken, &tokenExpiry, &p.TokenNeverExpires, &prev,
		&plan, &subState, &restriction, &p.PaymentFailures,
		&p.StripeCustomerID, &p.StripeSubscriptionID, &p.StripeItemID,
		&p.Suspended, &periodEnd, &refreshedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return principal.Principal{}, ErrNotFound
	}
	if err != nil {
		return principal.Principal{}, err
	}

	if err := json.Unmarshal([]byte(prev), &p.PreviousTokens); err != nil {
		return principal.Principal{}, fmt.Errorf("decode previous_tokens: %w", err)
	}
	var snap planRow
	if err := json.Unmarshal([]byte(plan), &snap); err != nil {
		return principal.Principal{}, fmt.Errorf("decode plan_snapshot: %w", err)
	}
	p.Plan = snap.snapshot()
	p.SubscriptionState = principal.SubscriptionState(subState)
	p.RestrictionLevel = principal.RestrictionLevel(restriction)
	if tokenExpiry.Valid {
		p.TokenExpiry = tokenExpiry.Time
	}
	if periodEnd.Valid {
		p.PeriodEnd = periodEnd.Time
	}
	if refreshedAt.Valid {
		p.SnapshotRefreshedAt = refreshedAt.Time
	}
	return p, nil
}

func encodePrincipal(p principal.Principal) (prev, plan string, err error) {
	tokens := p.PreviousTokens
	if tokens == nil {
		tokens = []string{}
	}
	prevBytes, err := json.Marshal(tokens)
	if err != nil {
		return "", "", err
	}
	planBytes, err := json.Marshal(planRowFrom(p.Plan))
	if err != nil {
		return "", "", err
	}
	return string(prevBytes), string(planBytes), nil
}

// planRow is the JSON shape of a stored plan snapshot.
type planRow struct {
	PlanID        string   `json:"plan_id"`
	Name          string   `json:"name"`
	HourlyLimit   int64    `json:"hourly_limit"`
	DailyLimit    int64    `json:"daily_limit"`
	MonthlyLimit  int64    `json:"monthly_limit"`
	BurstLimit    int64    `json:"burst_limit"`
	PriceMonthly  int64    `json:"price_monthly"`
	IsMetered     int      `json:"is_metered"`
	StripePriceID string   `json:"stripe_price_id"`
	Capabilities  []string `json:"capabilities"`
}

func planRowFrom(p principal.PlanSnapshot) planRow {
	caps := make([]string, len(p.Capabilities))
	for i, c := range p.Capabilities {
		caps[i] = string(c)
	}
	metered := 0
	if p.IsMetered {
		metered = 1
	}
	return planRow{
		PlanID:        p.PlanID,
		Name:          p.Name,
		HourlyLimit:   p.HourlyLimit,
		DailyLimit:    p.DailyLimit,
		MonthlyLimit:  p.MonthlyLimit,
		BurstLimit:    p.BurstLimit,
		PriceMonthly:  p.PriceMonthly,
		IsMetered:     metered,
		StripePriceID: p.StripePriceID,
		Capabilities:  caps,
	}
}

func (r planRow) snapshot() principal.PlanSnapshot {
	caps := make([]principal.Capability, len(r.Capabilities))
	for i, c := range r.Capabilities {
		caps[i] = principal.Capability(c)
	}
	return principal.PlanSnapshot{
		PlanID:        r.PlanID,
		Name:          r.Name,
		HourlyLimit:   r.HourlyLimit,
		DailyLimit:    r.DailyLimit,
		MonthlyLimit:  r.MonthlyLimit,
		BurstLimit:    r.BurstLimit,
		PriceMonthly:  r.PriceMonthly,
		IsMetered:     r.IsMetered == 1,
		StripePriceID: r.StripePriceID,
		Capabilities:  caps,
	}
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// Ensure interface compliance.
var _ ports.PrincipalStore = (*PrincipalStore)(nil)
