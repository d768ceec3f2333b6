// Package escalation resolves the optional escalation agent a project may
// route questions through before they reach the project owner.
package escalation

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/project"
	"github.com/BaSui01/agentmesh/types"
)

// Resolver resolves a project's configured escalation target.
type Resolver struct {
	project *project.Project
	store   *project.Store
	logger  *zap.Logger
}

// NewResolver creates a resolver for one project. The durable store is
// optional; without it, only current project members can resolve.
func NewResolver(p *project.Project, store *project.Store, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		project: p,
		store:   store,
		logger:  logger.With(zap.String("component", "escalation_resolver"), zap.String("project_id", p.ID)),
	}
}

// ResolveTarget returns the escalation agent's identity, or nil when no
// escalation agent is configured — callers must treat nil as "route
// directly, no escalation".
//
// A configured agent that exists in the durable store but is missing from
// the active project is auto-added as a member before being returned. A
// configured slug that resolves nowhere is a hard error: the configuration
// names an agent that does not exist.
func (r *Resolver) ResolveTarget(ctx context.Context) (*types.AgentIdentity, error) {
	slug := r.project.EscalationAgentSlug
	if slug == "" {
		return nil, nil
	}

	if agent, ok := r.project.AgentBySlug(slug); ok {
		return &agent, nil
	}

	if r.store != nil {
		agent, ok, err := r.store.AgentBySlug(ctx, slug)
		if err != nil {
			return nil, types.NewError(types.ErrEscalationInvalid, "lookup escalation agent "+slug).WithCause(err)
		}
		if ok {
			r.project.AddMember(agent)
			if err := r.store.AddMember(ctx, r.project.ID, agent); err != nil {
				// Membership persistence is a side effect; the in-memory
				// registration already happened.
				r.logger.Warn("failed to persist escalation agent membership",
					zap.String("slug", slug),
					zap.Error(err),
				)
			}
			r.logger.Info("escalation agent auto-registered as member",
				zap.String("slug", slug),
				zap.String("pubkey", agent.Pubkey),
			)
			return &agent, nil
		}
	}

	return nil, types.NewErrorf(types.ErrEscalationInvalid,
		"escalation agent %q is not a project member and is unknown to storage", slug)
}
