package runloop

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/conversation"
	"github.com/BaSui01/agentmesh/agent/registry"
	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/relay"
	"github.com/BaSui01/agentmesh/types"
)

// ResumeFunc restarts a suspended run. It receives the owning conversation,
// the fresh run number assigned for the restarted execution, and every
// reply that arrived while the run was suspended.
type ResumeFunc func(ctx context.Context, conversationID types.CorrelationID, run types.RunNumber, replies []*registry.CompletedDelegation) error

// Config wires a Loop.
type Config struct {
	Registry      *registry.Registry
	Conversations conversation.Store
	Resume        ResumeFunc
	Metrics       *metrics.Collector
	Logger        *zap.Logger
}

// Loop consumes inbound relay events and resumes runs whose pending
// delegations have all been answered. Suspension is cooperative: a
// suspended run holds no goroutine, it simply waits to be resumed here.
type Loop struct {
	registry      *registry.Registry
	conversations conversation.Store
	resume        ResumeFunc
	metrics       *metrics.Collector
	logger        *zap.Logger

	mu sync.Mutex
	// replies accumulates completions per suspended bucket until the
	// bucket drains and its run can be resumed.
	replies map[registry.BucketKey][]*registry.CompletedDelegation
	// lastRun tracks the highest run number seen per (agent, conversation)
	// so resumed runs always get a strictly fresh number.
	lastRun map[runKey]types.RunNumber
}

type runKey struct {
	agentPubkey    string
	conversationID types.CorrelationID
}

// New creates a run loop dispatcher.
func New(cfg Config) (*Loop, error) {
	if cfg.Registry == nil || cfg.Conversations == nil || cfg.Resume == nil {
		return nil, errors.New("runloop: registry, conversations, and resume are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		registry:      cfg.Registry,
		conversations: cfg.Conversations,
		resume:        cfg.Resume,
		metrics:       cfg.Metrics,
		logger:        logger.With(zap.String("component", "run_loop")),
		replies:       make(map[registry.BucketKey][]*registry.CompletedDelegation),
		lastRun:       make(map[runKey]types.RunNumber),
	}, nil
}

// Run consumes events until the channel closes or the context is done.
func (l *Loop) Run(ctx context.Context, events <-chan *relay.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			l.Dispatch(ctx, ev)
		}
	}
}

// Dispatch routes one inbound event. Unknown or irrelevant events are
// dropped after a debug log; the relay redelivers at-least-once, so an
// event that matches nothing now may be a duplicate of one that already
// completed its delegation.
func (l *Loop) Dispatch(ctx context.Context, ev *relay.Event) {
	switch ev.Kind {
	case relay.KindDelegateReply:
		l.handleReply(ctx, ev)
	case relay.KindStatusUpdate:
		l.appendToThread(ctx, ev)
	default:
		l.logger.Debug("ignoring event",
			zap.Int("kind", int(ev.Kind)),
			zap.String("event_id", ev.ID),
		)
	}
}

// handleReply completes the pending delegation the reply answers and, once
// the owning bucket has drained, resumes the run under a fresh run number.
func (l *Loop) handleReply(ctx context.Context, ev *relay.Event) {
	delegationID := ev.Root()

	lookup := l.registry.FindDelegation(delegationID)
	if lookup.Completed != nil {
		// At-least-once delivery: the first copy already won.
		l.logger.Debug("duplicate reply for completed delegation",
			zap.String("delegation_conversation_id", delegationID),
			zap.String("event_id", ev.ID),
		)
		return
	}
	if lookup.Pending == nil {
		l.logger.Debug("reply matches no pending delegation",
			zap.String("delegation_conversation_id", delegationID),
			zap.String("event_id", ev.ID),
		)
		return
	}

	done, ok := l.registry.MarkCompleted(delegationID, ev.ID, ev.Content)
	if !ok {
		// Lost the race against a concurrent copy of the same reply.
		return
	}
	l.metrics.RecordCompleted(string(done.Kind), time.Since(done.RegisteredAt))
	l.metrics.SetPendingCount(l.registry.PendingCount())
	l.appendToThread(ctx, ev)

	owner := *lookup.Owner
	l.logger.Info("delegation completed",
		zap.String("delegation_conversation_id", delegationID),
		zap.String("conversation_id", owner.ConversationID),
		zap.Int64("run", int64(owner.Run)),
		zap.String("kind", string(done.Kind)),
	)

	l.mu.Lock()
	l.replies[owner] = append(l.replies[owner], done)
	key := runKey{agentPubkey: owner.AgentPubkey, conversationID: owner.ConversationID}
	if owner.Run > l.lastRun[key] {
		l.lastRun[key] = owner.Run
	}

	// Fan-in barrier: batched delegations resume only after the last
	// outstanding entry of the bucket has been answered.
	remaining := l.registry.ConversationPending(
		types.AgentIdentity{Pubkey: owner.AgentPubkey}, owner.ConversationID, owner.Run)
	if len(remaining) > 0 {
		l.mu.Unlock()
		l.logger.Debug("run still has pending delegations",
			zap.String("conversation_id", owner.ConversationID),
			zap.Int("remaining", len(remaining)),
		)
		return
	}

	batch := l.replies[owner]
	delete(l.replies, owner)
	l.lastRun[key]++
	fresh := l.lastRun[key]
	l.mu.Unlock()

	// The drained bucket is done for good; the resumed execution runs
	// under the fresh number and registers new work there, never against
	// the stale run.
	l.registry.ClearRun(types.AgentIdentity{Pubkey: owner.AgentPubkey}, owner.ConversationID, owner.Run)

	ctx = types.WithConversationID(ctx, owner.ConversationID)
	ctx = types.WithRunNumber(ctx, fresh)
	if err := l.resume(ctx, owner.ConversationID, fresh, batch); err != nil {
		l.logger.Error("resume failed",
			zap.String("conversation_id", owner.ConversationID),
			zap.Int64("run", int64(fresh)),
			zap.Error(err),
		)
	}
}

// appendToThread records an inbound event in its thread's conversation.
// Best-effort: the registry transition already happened and history is a
// side channel.
func (l *Loop) appendToThread(ctx context.Context, ev *relay.Event) {
	conv, err := l.conversations.Get(ctx, ev.Root())
	if err != nil {
		if !errors.Is(err, conversation.ErrNotFound) {
			l.metrics.RecordPersistenceFailure()
			l.logger.Warn("failed to load thread conversation",
				zap.String("conversation_id", ev.Root()),
				zap.Error(err),
			)
		}
		return
	}
	conv.Append(ev)
	if err := l.conversations.Save(ctx, conv); err != nil {
		l.metrics.RecordPersistenceFailure()
		l.logger.Warn("failed to persist inbound event",
			zap.String("conversation_id", ev.Root()),
			zap.Error(err),
		)
	}
}
