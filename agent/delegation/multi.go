package delegation

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentmesh/agent/registry"
	"github.com/BaSui01/agentmesh/relay"
	"github.com/BaSui01/agentmesh/types"
)

// MultiParams carries one fan-out delegation. Recipients are project
// member slugs or bare pubkeys.
type MultiParams struct {
	ConversationID types.CorrelationID `json:"conversation_id"`
	Run            types.RunNumber     `json:"run"`
	Recipients     []string            `json:"recipients"`
	Prompt         string              `json:"prompt"`
	Phase          string              `json:"phase,omitempty"`
}

// DelegateMulti fans the same prompt out to N recipients in parallel and
// registers the batch as one bucket merge. The owning run only resumes
// once every registered delegation has observed its reply (the fan-in
// barrier lives in the run loop).
//
// Recipients that fail to resolve or publish are reported as warnings and
// the rest proceed; the call only fails when nothing could be sent.
func (s *Service) DelegateMulti(ctx context.Context, p MultiParams) (*ToolResult, error) {
	ctx, span := s.startSpan(ctx, "delegation.delegate_multi", p.ConversationID, p.Run)
	defer span.End()

	if len(p.Recipients) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "delegate_multi requires at least one recipient")
	}

	chain := s.chainOf(ctx, p.ConversationID)

	// Resolve first so warnings cover the whole recipient list before any
	// network work starts.
	var resolved []types.AgentIdentity
	var warnings []string
	for _, ref := range p.Recipients {
		agent, err := s.resolveRecipient(ref)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("recipient %q: %v", ref, err))
			s.metrics.RecordResolutionWarning()
			continue
		}
		if WouldCreateCircularDelegation(chain, agent) {
			warnings = append(warnings, fmt.Sprintf("recipient %q: already in delegation chain %s", ref, types.FormatChain(chain)))
			s.metrics.RecordResolutionWarning()
			continue
		}
		resolved = append(resolved, agent)
	}
	if len(resolved) == 0 {
		return nil, types.NewErrorf(types.ErrRecipientNotFound,
			"none of %d recipients could be resolved", len(p.Recipients)).
			WithCause(fmt.Errorf("%v", warnings))
	}

	var mu sync.Mutex
	var entries []registry.PendingDelegation
	var requests []*relay.Event

	g, gctx := errgroup.WithContext(ctx)
	for _, agent := range resolved {
		g.Go(func() error {
			ev, err := s.publishRequest(gctx, agent, p.Prompt, p.Phase, "")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Collect and keep going; the barrier only covers sends
				// that actually happened.
				warnings = append(warnings, fmt.Sprintf("recipient %q: publish failed: %v", agent.Slug, err))
				return nil
			}
			entries = append(entries, registry.PendingDelegation{
				Kind:                     registry.KindDelegate,
				DelegationConversationID: ev.ID,
				Recipient:                agent,
				Sender:                   s.self,
				Prompt:                   p.Prompt,
				Phase:                    p.Phase,
			})
			requests = append(requests, ev)
			return nil
		})
	}
	_ = g.Wait()

	if len(entries) == 0 {
		return nil, types.NewErrorf(types.ErrRecipientNotFound,
			"all %d resolved recipients failed to publish", len(resolved)).
			WithCause(fmt.Errorf("%v", warnings))
	}

	// One batch registration: the bucket is the fan-in barrier.
	s.registerPending(ctx, p.ConversationID, p.Run, entries, requests, chain)

	s.logger.Info("multi-delegation registered",
		zap.String("conversation_id", p.ConversationID),
		zap.Int("requested", len(p.Recipients)),
		zap.Int("registered", len(entries)),
		zap.Int("warnings", len(warnings)),
	)

	result := Suspend(fmt.Sprintf("delegated to %d of %d recipients", len(entries), len(p.Recipients)), entries...)
	result.Warnings = warnings
	return result, nil
}
