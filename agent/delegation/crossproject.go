package delegation

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/project"
	"github.com/BaSui01/agentmesh/agent/registry"
	"github.com/BaSui01/agentmesh/relay"
	"github.com/BaSui01/agentmesh/types"
)

// CrossProjectParams targets an agent in a sibling project by project id
// and member slug.
type CrossProjectParams struct {
	ConversationID types.CorrelationID `json:"conversation_id"`
	Run            types.RunNumber     `json:"run"`
	ProjectID      string              `json:"project_id"`
	RecipientSlug  string              `json:"recipient_slug"`
	Prompt         string              `json:"prompt"`
}

// DelegateCrossProject delegates to a member of another project. Unlike
// escalation resolution there is no fallback path: an unknown project or
// an unknown slug within it is a hard failure, because a cross-project
// call has no sensible default recipient.
//
// The sibling project is resolved from the live registry first, then the
// durable store.
func (s *Service) DelegateCrossProject(ctx context.Context, p CrossProjectParams) (*ToolResult, error) {
	ctx, span := s.startSpan(ctx, "delegation.delegate_crossproject", p.ConversationID, p.Run)
	defer span.End()

	target, err := s.resolveForeignProject(ctx, p.ProjectID)
	if err != nil {
		return nil, err
	}
	recipient, ok := target.AgentBySlug(p.RecipientSlug)
	if !ok {
		return nil, types.NewErrorf(types.ErrAgentNotFound,
			"agent %q is not a member of project %s", p.RecipientSlug, p.ProjectID)
	}

	chain := s.chainOf(ctx, p.ConversationID)
	if WouldCreateCircularDelegation(chain, recipient) {
		return nil, types.NewErrorf(types.ErrCircularDelegation,
			"delegating to %s would close a delegation cycle", recipient.String())
	}

	ev, err := s.publishRequest(ctx, recipient, p.Prompt, "", p.ProjectID)
	if err != nil {
		return nil, err
	}

	entry := registry.PendingDelegation{
		Kind:                     registry.KindExternal,
		DelegationConversationID: ev.ID,
		Recipient:                recipient,
		Sender:                   s.self,
		Prompt:                   p.Prompt,
		ProjectID:                p.ProjectID,
	}
	s.registerPending(ctx, p.ConversationID, p.Run, []registry.PendingDelegation{entry}, []*relay.Event{ev}, chain)
	s.logger.Info("cross-project delegation registered",
		zap.String("delegation_conversation_id", ev.ID),
		zap.String("project_id", p.ProjectID),
		zap.String("recipient", recipient.String()),
	)
	return Suspend("delegated to "+recipient.String()+" in project "+p.ProjectID, entry), nil
}

// resolveForeignProject looks up a sibling project, live registry first.
func (s *Service) resolveForeignProject(ctx context.Context, id string) (*project.Project, error) {
	if s.regLive != nil {
		if p, ok := s.regLive.Get(id); ok {
			return p, nil
		}
	}
	if s.store == nil {
		return nil, types.NewErrorf(types.ErrProjectNotFound, "project %s is not known", id)
	}
	p, err := s.store.ProjectByID(ctx, id)
	if err != nil {
		if errors.Is(err, project.ErrProjectNotFound) {
			return nil, types.NewErrorf(types.ErrProjectNotFound, "project %s is not known", id)
		}
		return nil, types.NewError(types.ErrInternalError, "load project").WithCause(err)
	}
	return p, nil
}
