package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/saas2guys/fingate/domain/principal"
	"github.com/saas2guys/fingate/ports"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// PrincipalStore is an in-memory principal store.
type PrincipalStore struct {
	mu         sync.RWMutex
	byID       map[string]principal.Principal
	byToken    map[string]string // token -> id
	byCustomer map[string]string // customer id -> id
}

// NewPrincipalStore creates an empty principal store.
func NewPrincipalStore() *PrincipalStore {
	return &PrincipalStore{
		byID:       make(map[string]principal.Principal),
		byToken:    make(map[string]string),
		byCustomer: make(map[string]string),
	}
}

// Get retrieves a principal by ID.
func (s *PrincipalStore) Get(ctx context.Context, id string) (principal.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return principal.Principal{}, ErrNotFound
	}
	return p, nil
}

// GetByToken retrieves a principal by its current opaque request token.
func (s *PrincipalStore) GetByToken(ctx context.Context, token string) (principal.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return principal.Principal{}, ErrNotFound
	}
	return s.byID[id], nil
}

// GetByCustomer retrieves a principal by payment-provider customer ID.
func (s *PrincipalStore) GetByCustomer(ctx context.Context, customerID string) (principal.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCustomer[customerID]
	if !ok {
		return principal.Principal{}, ErrNotFound
	}
	return s.byID[id], nil
}

// Create stores a new principal.
func (s *PrincipalStore) Create(ctx context.Context, p principal.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[p.ID]; exists {
		return errors.New("principal exists")
	}
	s.index(p)
	return nil
}

// Update modifies an existing principal. Token and customer indexes follow
// the record; a rotated token stops resolving immediately.
func (s *PrincipalStore) Update(ctx context.Context, p principal.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byID[p.ID]
	if !ok {
		return ErrNotFound
	}
	if old.RequestToken != "" && old.RequestToken != p.RequestToken {
		delete(s.byToken, old.RequestToken)
	}
	if old.StripeCustomerID != "" && old.StripeCustomerID != p.StripeCustomerID {
		delete(s.byCustomer, old.StripeCustomerID)
	}
	s.index(p)
	return nil
}

// ListMetered returns principals on metered plans.
func (s *PrincipalStore) ListMetered(ctx context.Context) ([]principal.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []principal.Principal
	for _, p := range s.byID {
		if p.Plan.IsMetered {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *PrincipalStore) index(p principal.Principal) {
	s.byID[p.ID] = p
	if p.RequestToken != "" {
		s.byToken[p.RequestToken] = p.ID
	}
	if p.StripeCustomerID != "" {
		s.byCustomer[p.StripeCustomerID] = p.ID
	}
}

// Ensure interface compliance.
var _ ports.PrincipalStore = (*PrincipalStore)(nil)

// PlanStore is an in-memory plan store.
type PlanStore struct {
	mu    sync.RWMutex
	plans map[string]principal.PlanSnapshot
}

// NewPlanStore creates a plan store seeded with the given plans.
func NewPlanStore(plans ...principal.PlanSnapshot) *PlanStore {
	s := &PlanStore{plans: make(map[string]principal.PlanSnapshot)}
	for _, p := range plans {
		s.plans[p.PlanID] = p
	}
	return s
}

// Get retrieves a plan by ID.
func (s *PlanStore) Get(ctx context.Context, id string) (principal.PlanSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return principal.PlanSnapshot{}, ErrNotFound
	}
	return p, nil
}

// GetByPriceID retrieves a plan by payment-provider price ID.
func (s *PlanStore) GetByPriceID(ctx context.Context, priceID string) (principal.PlanSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.plans {
		if p.StripePriceID == priceID {
			return p, nil
		}
	}
	return principal.PlanSnapshot{}, ErrNotFound
}

// List returns all plans.
func (s *PlanStore) List(ctx context.Context) ([]principal.PlanSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]principal.PlanSnapshot, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	return out, nil
}

// Put stores or replaces a plan.
func (s *PlanStore) Put(p principal.PlanSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.PlanID] = p
}

// Ensure interface compliance.
var _ ports.PlanStore = (*PlanStore)(nil)
