package delegation

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/registry"
	"github.com/BaSui01/agentmesh/relay"
	"github.com/BaSui01/agentmesh/types"
)

// DelegateParams carries one stop-and-wait delegation.
type DelegateParams struct {
	ConversationID types.CorrelationID `json:"conversation_id"`
	Run            types.RunNumber     `json:"run"`
	Recipient      types.AgentIdentity `json:"recipient"`
	Prompt         string              `json:"prompt"`
	// Phase labels a new instruction set. A non-empty phase legitimizes
	// self-delegation: "continue under a new instruction set" is not a
	// no-op loop.
	Phase string `json:"phase,omitempty"`
}

// Delegate sends work to another agent and suspends the caller until the
// reply arrives.
func (s *Service) Delegate(ctx context.Context, p DelegateParams) (*ToolResult, error) {
	ctx, span := s.startSpan(ctx, "delegation.delegate", p.ConversationID, p.Run)
	defer span.End()

	if p.Recipient.IsZero() {
		return nil, types.NewError(types.ErrRecipientNotFound, "delegate requires a recipient")
	}

	selfTarget := s.self.Equal(p.Recipient)
	if selfTarget && p.Phase == "" {
		return nil, types.NewError(types.ErrSelfDelegation,
			"delegating to yourself without a phase is a no-op loop; supply a phase to continue under a new instruction set")
	}

	// Phase-scoped self-delegation legitimately re-targets a chain member,
	// so the cycle check only applies to foreign recipients.
	if !selfTarget {
		chain := s.chainOf(ctx, p.ConversationID)
		if WouldCreateCircularDelegation(chain, p.Recipient) {
			return nil, types.NewErrorf(types.ErrCircularDelegation,
				"delegating to %s would create a cycle: %s", p.Recipient.String(), types.FormatChain(chain))
		}
	}

	ev, err := s.publishRequest(ctx, p.Recipient, p.Prompt, p.Phase, "")
	if err != nil {
		return nil, err
	}

	entry := registry.PendingDelegation{
		Kind:                     registry.KindDelegate,
		DelegationConversationID: ev.ID,
		Recipient:                p.Recipient,
		Sender:                   s.self,
		Prompt:                   p.Prompt,
		Phase:                    p.Phase,
	}
	s.registerPending(ctx, p.ConversationID, p.Run, []registry.PendingDelegation{entry}, []*relay.Event{ev}, s.chainOf(ctx, p.ConversationID))

	s.logger.Info("delegation registered",
		zap.String("conversation_id", p.ConversationID),
		zap.String("delegation_conversation_id", ev.ID),
		zap.String("recipient", p.Recipient.String()),
		zap.String("phase", p.Phase),
	)
	return Suspend("delegated to "+p.Recipient.String(), entry), nil
}
