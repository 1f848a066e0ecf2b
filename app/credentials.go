// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/saas2guys/fingate/domain/envelope"
	"github.com/saas2guys/fingate/domain/principal"
	"github.com/saas2guys/fingate/ports"
)

// snapshotMaxAge is how long a principal's plan snapshot is trusted before
// it is re-read from the plan store.
const snapshotMaxAge = time.Hour

// Credentials carries the raw credential material of one request.
type Credentials struct {
	Bearer string // signed JWT, without the "Bearer " prefix
	Token  string // opaque request token
	IP     string
}

// CredentialService resolves request credentials to a principal.
type CredentialService struct {
	principals ports.PrincipalStore
	plans      ports.PlanStore
	verifier   ports.TokenVerifier
	clock      ports.Clock
	log        zerolog.Logger

	allowAnonymous bool
}

// CredentialDeps contains dependencies for CredentialService.
type CredentialDeps struct {
	Principals ports.PrincipalStore
	Plans      ports.PlanStore
	Verifier   ports.TokenVerifier
	Clock      ports.Clock
	Log        zerolog.Logger
}

// NewCredentialService creates a credential service. allowAnonymous admits
// unauthenticated requests as IP-keyed principals; enable it only in the
// local environment.
func NewCredentialService(deps CredentialDeps, allowAnonymous bool) *CredentialService {
	return &CredentialService{
		principals:     deps.Principals,
		plans:          deps.Plans,
		verifier:       deps.Verifier,
		clock:          deps.Clock,
		log:            deps.Log,
		allowAnonymous: allowAnonymous,
	}
}

// Resolve identifies the principal for a request. Failures map to
// AUTH_INVALID; the two credential paths (signed bearer, opaque token) are
// tried in that order.
func (s *CredentialService) Resolve(ctx context.Context, creds Credentials) (principal.Principal, *envelope.Error) {
	now := s.clock.Now()

	switch {
	case creds.Bearer != "":
		claims, err := s.verifier.Verify(creds.Bearer)
		if err != nil {
			e := envelope.Err(envelope.CodeAuthInvalid, "invalid bearer token")
			return principal.Principal{}, &e
		}
		p, err := s.principals.Get(ctx, claims.Subject)
		if err != nil {
			e := envelope.Err(envelope.CodeAuthInvalid, "unknown principal")
			return principal.Principal{}, &e
		}
		return s.admit(ctx, p, now)

	case creds.Token != "":
		p, err := s.principals.GetByToken(ctx, creds.Token)
		if err != nil {
			e := envelope.Err(envelope.CodeAuthInvalid, "unknown request token")
			return principal.Principal{}, &e
		}
		if !p.TokenValid(now) {
			e := envelope.Err(envelope.CodeAuthInvalid, "request token expired")
			return principal.Principal{}, &e
		}
		return s.admit(ctx, p, now)

	case s.allowAnonymous:
		return principal.AnonymousPrincipal(creds.IP), nil
	}

	e := envelope.Err(envelope.CodeAuthInvalid, "missing credentials")
	return principal.Principal{}, &e
}

func (s *CredentialService) admit(ctx context.Context, p principal.Principal, now time.Time) (principal.Principal, *envelope.Error) {
	if p.Suspended {
		e := envelope.Err(envelope.CodeAuthInvalid, "account suspended")
		return principal.Principal{}, &e
	}
	return s.refreshSnapshot(ctx, p, now), nil
}

// refreshSnapshot re-reads the plan when the stored snapshot is stale. A
// failed refresh keeps the stale snapshot; serving on old limits beats
// rejecting traffic.
func (s *CredentialService) refreshSnapshot(ctx context.Context, p principal.Principal, now time.Time) principal.Principal {
	if p.Plan.PlanID == "" || now.Sub(p.SnapshotRefreshedAt) < snapshotMaxAge {
		return p
	}

	fresh, err := s.plans.Get(ctx, p.Plan.PlanID)
	if err != nil {
		s.log.Warn().Err(err).Str("plan", p.Plan.PlanID).Msg("plan snapshot refresh failed")
		return p
	}
	p.Plan = fresh
	p.SnapshotRefreshedAt = now
	if err := s.principals.Update(ctx, p); err != nil {
		s.log.Warn().Err(err).Str("principal", p.ID).Msg("persisting refreshed snapshot failed")
	}
	return p
}

// RotateToken issues a new opaque token for a principal, retiring the old
// one into the bounded history.
func (s *CredentialService) RotateToken(ctx context.Context, principalID, newToken string, expiry time.Time) (principal.Principal, error) {
	p, err := s.principals.Get(ctx, principalID)
	if err != nil {
		return principal.Principal{}, err
	}
	p = principal.RotateToken(p, newToken, expiry, s.clock.Now())
	if err := s.principals.Update(ctx, p); err != nil {
		return principal.Principal{}, err
	}
	return p, nil
}
