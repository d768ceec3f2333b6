package delegation

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/conversation"
	"github.com/BaSui01/agentmesh/agent/escalation"
	"github.com/BaSui01/agentmesh/agent/project"
	"github.com/BaSui01/agentmesh/agent/registry"
	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/relay"
	"github.com/BaSui01/agentmesh/types"
)

// Publisher publishes signed events to the relay network.
type Publisher interface {
	Publish(ctx context.Context, event *relay.Event) error
}

// Service builds, registers, and publishes outgoing delegations on behalf
// of one agent in one project.
type Service struct {
	self    types.AgentIdentity
	proj    *project.Project
	regLive *project.Registry
	store   *project.Store

	escalation    *escalation.Resolver
	registry      *registry.Registry
	conversations conversation.Store
	publisher     Publisher
	signer        relay.Signer

	metrics *metrics.Collector
	tracer  trace.Tracer
	logger  *zap.Logger
}

// Config wires a Service. Registry, Conversations, Publisher, and Signer
// are required; ProjectRegistry and ProjectStore are only needed for
// cross-project calls; Metrics may be nil.
type Config struct {
	Self            types.AgentIdentity
	Project         *project.Project
	ProjectRegistry *project.Registry
	ProjectStore    *project.Store
	Registry        *registry.Registry
	Conversations   conversation.Store
	Publisher       Publisher
	Signer          relay.Signer
	Metrics         *metrics.Collector
	Logger          *zap.Logger
}

// NewService creates a delegation service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Self.IsZero() {
		return nil, errors.New("delegation: self identity is required")
	}
	if cfg.Project == nil || cfg.Registry == nil || cfg.Conversations == nil ||
		cfg.Publisher == nil || cfg.Signer == nil {
		return nil, errors.New("delegation: project, registry, conversations, publisher, and signer are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		self:          cfg.Self,
		proj:          cfg.Project,
		regLive:       cfg.ProjectRegistry,
		store:         cfg.ProjectStore,
		escalation:    escalation.NewResolver(cfg.Project, cfg.ProjectStore, logger),
		registry:      cfg.Registry,
		conversations: cfg.Conversations,
		publisher:     cfg.Publisher,
		signer:        cfg.Signer,
		metrics:       cfg.Metrics,
		tracer:        otel.Tracer("github.com/BaSui01/agentmesh/agent/delegation"),
		logger:        logger.With(zap.String("component", "delegation_service"), zap.String("agent", cfg.Self.String())),
	}, nil
}

// selfHop is the hop this agent adds when it delegates onward.
func (s *Service) selfHop() types.Hop {
	return types.Hop{DisplayName: s.self.Slug, Pubkey: s.self.Pubkey}
}

// chainOf loads the delegation chain of a conversation, failing open: any
// load error means "unknown chain, assume no cycle".
func (s *Service) chainOf(ctx context.Context, conversationID types.CorrelationID) []types.Hop {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, conversation.ErrNotFound) {
			s.logger.Warn("failed to load conversation chain, assuming no cycle",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		}
		return nil
	}
	return conv.Metadata.DelegationChain
}

// publishRequest signs and publishes an outgoing delegation request. The
// returned event's id is the correlation id of the new delegation
// conversation.
func (s *Service) publishRequest(ctx context.Context, recipient types.AgentIdentity, prompt, phase, projectRef string) (*relay.Event, error) {
	ev := relay.NewEvent(relay.KindDelegateRequest, prompt).Tag(relay.TagRecipient, recipient.Pubkey)
	if phase != "" {
		ev.Tag(relay.TagPhase, phase)
	}
	if projectRef != "" {
		ev.Tag(relay.TagProject, projectRef)
	}

	if err := s.publishEvent(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// publishEvent signs and publishes one event, recording the publish outcome.
func (s *Service) publishEvent(ctx context.Context, ev *relay.Event) error {
	if err := s.signer.Sign(ctx, ev); err != nil {
		return types.NewError(types.ErrSigningFailed, "sign delegation request").WithCause(err)
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		switch types.GetErrorCode(err) {
		case types.ErrTimeout:
			s.metrics.RecordPublish("timeout")
		case types.ErrRelayRejected:
			s.metrics.RecordPublish("rejected")
		default:
			s.metrics.RecordPublish("error")
		}
		return err
	}
	s.metrics.RecordPublish("ok")
	return nil
}

// registerPending merges entries into the caller's bucket and triggers the
// best-effort persistence side effects. Persistence failures are logged
// and swallowed: the in-memory registry remains the durable-enough source
// of truth for the process lifetime.
func (s *Service) registerPending(ctx context.Context, conversationID types.CorrelationID, run types.RunNumber, entries []registry.PendingDelegation, requests []*relay.Event, parentChain []types.Hop) {
	s.registry.MergePending(s.self, conversationID, run, entries)
	for _, e := range entries {
		s.metrics.RecordRegistered(string(e.Kind))
	}
	s.metrics.SetPendingCount(s.registry.PendingCount())

	for _, ev := range requests {
		s.persistDelegationConversation(ctx, ev, parentChain)
	}
	s.persistOriginMetadata(ctx, conversationID)
}

// persistDelegationConversation creates the conversation rooted at an
// outgoing request, extending the parent chain with this agent's hop.
func (s *Service) persistDelegationConversation(ctx context.Context, ev *relay.Event, parentChain []types.Hop) {
	conv := conversation.NewConversation(ev)
	conv.Metadata.DelegationChain = append(append([]types.Hop{}, parentChain...), s.selfHop())
	if err := s.conversations.Save(ctx, conv); err != nil {
		s.metrics.RecordPersistenceFailure()
		s.logger.Warn("failed to persist delegation conversation",
			zap.String("delegation_conversation_id", ev.ID),
			zap.Error(err),
		)
	}
}

// persistOriginMetadata re-saves the owning conversation so its metadata
// reflects the registration.
func (s *Service) persistOriginMetadata(ctx context.Context, conversationID types.CorrelationID) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, conversation.ErrNotFound) {
			s.metrics.RecordPersistenceFailure()
			s.logger.Warn("failed to load origin conversation for persistence",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		}
		return
	}
	if err := s.conversations.Save(ctx, conv); err != nil {
		s.metrics.RecordPersistenceFailure()
		s.logger.Warn("failed to persist origin conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
}

// resolveRecipient resolves a fan-out recipient reference, which may be a
// project member's slug or a bare pubkey.
func (s *Service) resolveRecipient(ref string) (types.AgentIdentity, error) {
	if agent, ok := s.proj.AgentBySlug(ref); ok {
		return agent, nil
	}
	if s.proj.IsMember(ref) {
		for _, m := range s.proj.Members() {
			if m.Pubkey == ref {
				return m, nil
			}
		}
	}
	return types.AgentIdentity{}, types.NewErrorf(types.ErrRecipientNotFound,
		"recipient %q is not a member of project %s", ref, s.proj.ID)
}

// startSpan opens a tracing span for one delegation operation and stamps
// the call identifiers on the context for everything downstream of the
// tool (publisher, stores, resolver).
func (s *Service) startSpan(ctx context.Context, op string, conversationID types.CorrelationID, run types.RunNumber) (context.Context, trace.Span) {
	ctx = types.WithConversationID(ctx, conversationID)
	ctx = types.WithRunNumber(ctx, run)
	ctx = types.WithProjectID(ctx, s.proj.ID)
	return s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.Int64("run.number", int64(run)),
	))
}
