package auth

import (
	"context"
	"fmt"

	"repairflow/internal/config"
	"repairflow/internal/repo"
)

// CapabilitySales is held by members of any configured sales role.
const CapabilitySales = "sales"

// ForbiddenError indicates the actor lacks a capability.
type ForbiddenError struct {
	Capability string
	Message    string
}

func (e ForbiddenError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("capability %s required", e.Capability)
}

// Service answers role questions against the actor_roles relation.
type Service struct {
	Repo   repo.Repo
	Config *config.Config
}

func (s Service) salesRoles() []string {
	if s.Config == nil {
		return nil
	}
	return s.Config.Sales.Roles
}

// HasSalesCapability reports whether actorID holds any sales role.
func (s Service) HasSalesCapability(ctx context.Context, q repo.Querier, actorID string) (bool, error) {
	if actorID == "" {
		return false, nil
	}
	return s.Repo.ActorHasAnyRole(ctx, q, actorID, s.salesRoles())
}

// RequireSales returns a ForbiddenError carrying msg unless the actor is
// sales-capable.
func (s Service) RequireSales(ctx context.Context, q repo.Querier, actorID, msg string) error {
	ok, err := s.HasSalesCapability(ctx, q, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Capability: CapabilitySales, Message: msg}
	}
	return nil
}

// SalesUsers returns every sales-capable identity minus the excluded ones.
func (s Service) SalesUsers(ctx context.Context, q repo.Querier) ([]string, error) {
	ids, err := s.Repo.ActorsWithAnyRole(ctx, q, s.salesRoles())
	if err != nil {
		return nil, err
	}
	out := ids[:0]
	for _, id := range ids {
		if s.Config != nil && s.Config.Excluded(id) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
