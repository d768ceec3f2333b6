package delegation

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/registry"
	"github.com/BaSui01/agentmesh/relay"
	"github.com/BaSui01/agentmesh/types"
)

// FollowupParams carries one follow-up on an earlier delegation. Run is
// the caller's current run number.
type FollowupParams struct {
	ConversationID           types.CorrelationID `json:"conversation_id"`
	Run                      types.RunNumber     `json:"run"`
	DelegationConversationID types.CorrelationID `json:"delegation_conversation_id"`
	Prompt                   string              `json:"prompt"`
}

// DelegateFollowup sends an additional message into an existing delegation
// thread and returns control to the caller immediately — no Awaiting. The
// agent keeps working while the follow-up is outstanding.
//
// The pending entry registers under the caller's current run number, never
// the run recorded on the original delegation: that run may already have
// been cleared.
func (s *Service) DelegateFollowup(ctx context.Context, p FollowupParams) (*ToolResult, error) {
	ctx, span := s.startSpan(ctx, "delegation.delegate_followup", p.ConversationID, p.Run)
	defer span.End()

	lookup := s.registry.FindDelegation(p.DelegationConversationID)
	recipient, ok := lookup.Recipient()
	if !ok {
		return nil, types.NewErrorf(types.ErrRecipientNotFound,
			"no delegation with conversation id %s is known", p.DelegationConversationID)
	}

	ev := relay.NewEvent(relay.KindDelegateRequest, p.Prompt).
		Tag(relay.TagRecipient, recipient.Pubkey).
		Tag(relay.TagRoot, p.DelegationConversationID)
	if err := s.publishEvent(ctx, ev); err != nil {
		return nil, err
	}

	entry := registry.PendingDelegation{
		Kind:                     registry.KindFollowup,
		DelegationConversationID: p.DelegationConversationID,
		Recipient:                recipient,
		Sender:                   s.self,
		Prompt:                   p.Prompt,
		FollowupEventID:          ev.ID,
	}
	// Merge, not set: the original pending entry (if the delegation is
	// still outstanding under this run) must survive untouched.
	s.registry.MergePending(s.self, p.ConversationID, p.Run, []registry.PendingDelegation{entry})
	s.metrics.RecordRegistered(string(registry.KindFollowup))
	s.metrics.SetPendingCount(s.registry.PendingCount())
	s.persistOriginMetadata(ctx, p.ConversationID)

	// Append the follow-up to the delegation thread's history.
	if conv, err := s.conversations.Get(ctx, p.DelegationConversationID); err == nil {
		conv.Append(ev)
		if err := s.conversations.Save(ctx, conv); err != nil {
			s.metrics.RecordPersistenceFailure()
			s.logger.Warn("failed to persist followup event",
				zap.String("delegation_conversation_id", p.DelegationConversationID),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("followup sent",
		zap.String("delegation_conversation_id", p.DelegationConversationID),
		zap.String("followup_event_id", ev.ID),
		zap.String("recipient", recipient.String()),
		zap.Int64("run", int64(p.Run)),
	)
	return Continue("followup sent to " + recipient.String()), nil
}
