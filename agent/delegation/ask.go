package delegation

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/registry"
	"github.com/BaSui01/agentmesh/relay"
	"github.com/BaSui01/agentmesh/types"
)

// AskParams carries one ask call.
type AskParams struct {
	ConversationID types.CorrelationID `json:"conversation_id"`
	Run            types.RunNumber     `json:"run"`
	Prompt         string              `json:"prompt"`
	// Suggestions are preset answer options shown to the human.
	Suggestions []string `json:"suggestions,omitempty"`
}

// Ask routes a question toward the project owner, via the escalation agent
// when one is configured and the caller is not itself that agent.
//
// Escalation is a best-effort optimization, never a hard requirement: when
// routing through the escalation agent would create a cycle in the
// delegation chain, the question goes directly to the owner instead of
// failing.
func (s *Service) Ask(ctx context.Context, p AskParams) (*ToolResult, error) {
	ctx, span := s.startSpan(ctx, "delegation.ask", p.ConversationID, p.Run)
	defer span.End()

	recipient := s.proj.Owner

	target, err := s.escalation.ResolveTarget(ctx)
	if err != nil {
		return nil, err
	}
	if target != nil && !s.self.Equal(*target) {
		chain := s.chainOf(ctx, p.ConversationID)
		if WouldCreateCircularDelegation(chain, *target) {
			s.logger.Info("escalation would create a cycle, falling back to direct ask",
				zap.String("escalation_agent", target.String()),
				zap.String("chain", types.FormatChain(chain)),
			)
		} else {
			recipient = *target
		}
	}

	ev, err := s.publishRequest(ctx, recipient, p.Prompt, "", "")
	if err != nil {
		return nil, err
	}

	entry := registry.PendingDelegation{
		Kind:                     registry.KindAsk,
		DelegationConversationID: ev.ID,
		Recipient:                recipient,
		Sender:                   s.self,
		Prompt:                   p.Prompt,
		Suggestions:              p.Suggestions,
	}
	s.registerPending(ctx, p.ConversationID, p.Run, []registry.PendingDelegation{entry}, []*relay.Event{ev}, s.chainOf(ctx, p.ConversationID))

	s.logger.Info("ask registered",
		zap.String("conversation_id", p.ConversationID),
		zap.String("delegation_conversation_id", ev.ID),
		zap.String("recipient", recipient.String()),
	)
	return Suspend("question sent to "+recipient.String(), entry), nil
}
