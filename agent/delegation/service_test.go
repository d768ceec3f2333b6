package delegation

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/conversation"
	"github.com/BaSui01/agentmesh/agent/project"
	"github.com/BaSui01/agentmesh/agent/registry"
	"github.com/BaSui01/agentmesh/relay"
	"github.com/BaSui01/agentmesh/types"
)

// fakePublisher records published events and can be told to fail for
// specific recipients.
type fakePublisher struct {
	mu      sync.Mutex
	events  []*relay.Event
	lastCtx context.Context
	fail    map[string]error // recipient pubkey -> error
}

func (p *fakePublisher) Publish(ctx context.Context, ev *relay.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCtx = ctx
	if err, ok := p.fail[ev.Recipient()]; ok {
		return err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) published() []*relay.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*relay.Event{}, p.events...)
}

type testFixture struct {
	svc       *Service
	self      types.AgentIdentity
	owner     types.AgentIdentity
	proj      *project.Project
	projects  *project.Registry
	registry  *registry.Registry
	store     conversation.Store
	publisher *fakePublisher
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()

	signer, err := relay.NewLocalSigner()
	require.NoError(t, err)

	self := types.AgentIdentity{Pubkey: signer.Pubkey(), Slug: "worker"}
	owner := types.AgentIdentity{Pubkey: "pk-owner", Slug: "owner"}
	proj := project.NewProject("proj-main", "Main", owner)
	proj.AddMember(self)

	projects := project.NewRegistry(zap.NewNop())
	reg := registry.New(zap.NewNop())
	store := conversation.NewMemoryStore(conversation.DefaultStoreConfig())
	pub := &fakePublisher{fail: map[string]error{}}

	svc, err := NewService(Config{
		Self:            self,
		Project:         proj,
		ProjectRegistry: projects,
		Registry:        reg,
		Conversations:   store,
		Publisher:       pub,
		Signer:          signer,
		Logger:          zap.NewNop(),
	})
	require.NoError(t, err)

	return &testFixture{
		svc:       svc,
		self:      self,
		owner:     owner,
		proj:      proj,
		projects:  projects,
		registry:  reg,
		store:     store,
		publisher: pub,
	}
}

// seedChain saves an origin conversation whose metadata carries the given
// delegation chain.
func (f *testFixture) seedChain(t *testing.T, conversationID types.CorrelationID, chain ...types.Hop) {
	t.Helper()
	root := relay.NewEvent(relay.KindMessage, "origin")
	root.ID = conversationID
	conv := conversation.NewConversation(root)
	conv.Metadata.DelegationChain = chain
	require.NoError(t, f.store.Save(context.Background(), conv))
}

func TestAskDefaultsToOwner(t *testing.T) {
	f := newTestFixture(t)

	res, err := f.svc.Ask(context.Background(), AskParams{
		ConversationID: "conv-1", Run: 1, Prompt: "which branch?",
	})
	require.NoError(t, err)
	assert.Equal(t, SignalSuspend, res.Signal)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, registry.KindAsk, res.Pending[0].Kind)
	assert.Equal(t, f.owner, res.Pending[0].Recipient)

	pending := f.registry.ConversationPending(f.self, "conv-1", 1)
	require.Len(t, pending, 1)
	assert.Equal(t, res.Pending[0].DelegationConversationID, pending[0].DelegationConversationID)
}

func TestAskRoutesThroughEscalationAgent(t *testing.T) {
	f := newTestFixture(t)
	esc := types.AgentIdentity{Pubkey: "pk-esc", Slug: "triage"}
	f.proj.AddMember(esc)
	f.proj.EscalationAgentSlug = "triage"

	res, err := f.svc.Ask(context.Background(), AskParams{
		ConversationID: "conv-1", Run: 1, Prompt: "need a decision",
		Suggestions: []string{"yes", "no"},
	})
	require.NoError(t, err)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, esc, res.Pending[0].Recipient)
	assert.Equal(t, []string{"yes", "no"}, res.Pending[0].Suggestions)

	events := f.publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, "pk-esc", events[0].Recipient())
}

func TestAskFallsBackToOwnerWhenEscalationWouldCycle(t *testing.T) {
	f := newTestFixture(t)
	esc := types.AgentIdentity{Pubkey: "pk-esc", Slug: "triage"}
	f.proj.AddMember(esc)
	f.proj.EscalationAgentSlug = "triage"
	f.seedChain(t, "conv-1", types.Hop{DisplayName: "triage", Pubkey: "pk-esc"})

	res, err := f.svc.Ask(context.Background(), AskParams{
		ConversationID: "conv-1", Run: 1, Prompt: "question",
	})
	require.NoError(t, err)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, f.owner, res.Pending[0].Recipient, "cycle must downgrade to a direct ask, not fail")
}

func TestAskUnknownEscalationAgentIsHardError(t *testing.T) {
	f := newTestFixture(t)
	f.proj.EscalationAgentSlug = "ghost"

	_, err := f.svc.Ask(context.Background(), AskParams{ConversationID: "conv-1", Run: 1, Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, types.ErrEscalationInvalid, types.GetErrorCode(err))
	assert.Empty(t, f.publisher.published())
}

func TestDelegateSuspendsAndRegisters(t *testing.T) {
	f := newTestFixture(t)
	recipient := types.AgentIdentity{Pubkey: "pk-researcher", Slug: "researcher"}

	res, err := f.svc.Delegate(context.Background(), DelegateParams{
		ConversationID: "conv-1", Run: 2, Recipient: recipient, Prompt: "summarize the findings",
	})
	require.NoError(t, err)
	assert.Equal(t, SignalSuspend, res.Signal)

	pending := f.registry.ConversationPending(f.self, "conv-1", 2)
	require.Len(t, pending, 1)
	assert.Equal(t, registry.KindDelegate, pending[0].Kind)
	assert.Equal(t, recipient, pending[0].Recipient)
	assert.Equal(t, types.RunNumber(2), pending[0].RunNumber)

	// The new delegation conversation exists with this agent as last hop.
	conv, err := f.store.Get(context.Background(), pending[0].DelegationConversationID)
	require.NoError(t, err)
	require.NotEmpty(t, conv.Metadata.DelegationChain)
	last := conv.Metadata.DelegationChain[len(conv.Metadata.DelegationChain)-1]
	assert.Equal(t, f.self.Pubkey, last.Pubkey)

	// The call identifiers travel on the context through the publisher.
	gotConv, ok := types.ConversationID(f.publisher.lastCtx)
	require.True(t, ok)
	assert.Equal(t, types.CorrelationID("conv-1"), gotConv)
	gotRun, ok := types.CurrentRunNumber(f.publisher.lastCtx)
	require.True(t, ok)
	assert.Equal(t, types.RunNumber(2), gotRun)
	gotProj, ok := types.ProjectID(f.publisher.lastCtx)
	require.True(t, ok)
	assert.Equal(t, f.proj.ID, gotProj)
}

func TestDelegateToSelfRequiresPhase(t *testing.T) {
	f := newTestFixture(t)

	_, err := f.svc.Delegate(context.Background(), DelegateParams{
		ConversationID: "conv-1", Run: 1, Recipient: f.self, Prompt: "again",
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrSelfDelegation, types.GetErrorCode(err))

	res, err := f.svc.Delegate(context.Background(), DelegateParams{
		ConversationID: "conv-1", Run: 1, Recipient: f.self, Prompt: "again", Phase: "review",
	})
	require.NoError(t, err)
	assert.Equal(t, SignalSuspend, res.Signal)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, "review", res.Pending[0].Phase)
}

func TestDelegateRejectsCircularRecipient(t *testing.T) {
	f := newTestFixture(t)
	upstream := types.AgentIdentity{Pubkey: "pk-up", Slug: "upstream"}
	f.seedChain(t, "conv-1", types.Hop{DisplayName: "upstream", Pubkey: "pk-up"})

	_, err := f.svc.Delegate(context.Background(), DelegateParams{
		ConversationID: "conv-1", Run: 1, Recipient: upstream, Prompt: "loop back",
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrCircularDelegation, types.GetErrorCode(err))
	assert.Empty(t, f.publisher.published())
}

func TestDelegateMultiRegistersBatchWithWarnings(t *testing.T) {
	f := newTestFixture(t)
	f.proj.AddMember(types.AgentIdentity{Pubkey: "pk-a", Slug: "alpha"})
	f.proj.AddMember(types.AgentIdentity{Pubkey: "pk-b", Slug: "beta"})

	res, err := f.svc.DelegateMulti(context.Background(), MultiParams{
		ConversationID: "conv-1", Run: 1,
		Recipients: []string{"alpha", "beta", "nobody"},
		Prompt:     "split the work",
	})
	require.NoError(t, err)
	assert.Equal(t, SignalSuspend, res.Signal)
	assert.Len(t, res.Pending, 2)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "nobody")

	// One batch merge: both entries in the same bucket.
	pending := f.registry.ConversationPending(f.self, "conv-1", 1)
	assert.Len(t, pending, 2)
	assert.Len(t, f.publisher.published(), 2)
}

func TestDelegateMultiFailsWhenNothingResolves(t *testing.T) {
	f := newTestFixture(t)

	_, err := f.svc.DelegateMulti(context.Background(), MultiParams{
		ConversationID: "conv-1", Run: 1,
		Recipients: []string{"ghost-1", "ghost-2"},
		Prompt:     "anyone?",
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrRecipientNotFound, types.GetErrorCode(err))
	assert.Empty(t, f.registry.ConversationPending(f.self, "conv-1", 1))
}

func TestDelegateMultiSurvivesPartialPublishFailure(t *testing.T) {
	f := newTestFixture(t)
	f.proj.AddMember(types.AgentIdentity{Pubkey: "pk-a", Slug: "alpha"})
	f.proj.AddMember(types.AgentIdentity{Pubkey: "pk-b", Slug: "beta"})
	f.publisher.fail["pk-b"] = relay.ErrRejected

	res, err := f.svc.DelegateMulti(context.Background(), MultiParams{
		ConversationID: "conv-1", Run: 1,
		Recipients: []string{"alpha", "beta"},
		Prompt:     "split",
	})
	require.NoError(t, err)
	assert.Len(t, res.Pending, 1)
	assert.Equal(t, "pk-a", res.Pending[0].Recipient.Pubkey)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "beta")
}

func TestFollowupRegistersUnderCurrentRun(t *testing.T) {
	f := newTestFixture(t)
	recipient := types.AgentIdentity{Pubkey: "pk-researcher", Slug: "researcher"}

	first, err := f.svc.Delegate(context.Background(), DelegateParams{
		ConversationID: "conv-1", Run: 3, Recipient: recipient, Prompt: "start",
	})
	require.NoError(t, err)
	delegationID := first.Pending[0].DelegationConversationID

	// The follow-up happens two runs later; it must land in the run-5
	// bucket, not the stale run-3 one.
	res, err := f.svc.DelegateFollowup(context.Background(), FollowupParams{
		ConversationID: "conv-1", Run: 5,
		DelegationConversationID: delegationID,
		Prompt:                   "also check the appendix",
	})
	require.NoError(t, err)
	assert.Equal(t, SignalContinue, res.Signal, "followups never suspend")

	current := f.registry.ConversationPending(f.self, "conv-1", 5)
	require.Len(t, current, 1)
	assert.Equal(t, registry.KindFollowup, current[0].Kind)
	assert.Equal(t, delegationID, current[0].DelegationConversationID)
	assert.NotEmpty(t, current[0].FollowupEventID)
	assert.Equal(t, recipient, current[0].Recipient)

	// The follow-up event threads into the existing delegation.
	events := f.publisher.published()
	require.Len(t, events, 2)
	assert.Equal(t, delegationID, events[1].Root())
}

func TestFollowupUnknownDelegationIsHardError(t *testing.T) {
	f := newTestFixture(t)

	_, err := f.svc.DelegateFollowup(context.Background(), FollowupParams{
		ConversationID: "conv-1", Run: 1,
		DelegationConversationID: "deleg-missing",
		Prompt:                   "hello?",
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrRecipientNotFound, types.GetErrorCode(err))
}

func TestCrossProjectResolvesFromLiveRegistry(t *testing.T) {
	f := newTestFixture(t)
	sibOwner := types.AgentIdentity{Pubkey: "pk-sib-owner", Slug: "sib-owner"}
	sibling := project.NewProject("proj-sib", "Sibling", sibOwner)
	sibling.AddMember(types.AgentIdentity{Pubkey: "pk-sib-worker", Slug: "sib-worker"})
	f.projects.Register(sibling)

	res, err := f.svc.DelegateCrossProject(context.Background(), CrossProjectParams{
		ConversationID: "conv-1", Run: 1,
		ProjectID: "proj-sib", RecipientSlug: "sib-worker",
		Prompt: "cross-project task",
	})
	require.NoError(t, err)
	assert.Equal(t, SignalSuspend, res.Signal)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, registry.KindExternal, res.Pending[0].Kind)
	assert.Equal(t, "proj-sib", res.Pending[0].ProjectID)

	events := f.publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, "proj-sib", events[0].ProjectRef())
}

func TestCrossProjectUnknownProjectIsHardError(t *testing.T) {
	f := newTestFixture(t)

	_, err := f.svc.DelegateCrossProject(context.Background(), CrossProjectParams{
		ConversationID: "conv-1", Run: 1,
		ProjectID: "proj-ghost", RecipientSlug: "anyone", Prompt: "task",
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrProjectNotFound, types.GetErrorCode(err))
}

func TestCrossProjectUnknownAgentIsHardError(t *testing.T) {
	f := newTestFixture(t)
	sibling := project.NewProject("proj-sib", "Sibling", types.AgentIdentity{Pubkey: "pk-x", Slug: "x"})
	f.projects.Register(sibling)

	_, err := f.svc.DelegateCrossProject(context.Background(), CrossProjectParams{
		ConversationID: "conv-1", Run: 1,
		ProjectID: "proj-sib", RecipientSlug: "nobody", Prompt: "task",
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentNotFound, types.GetErrorCode(err))
}

func TestToolsDispatchByName(t *testing.T) {
	f := newTestFixture(t)
	tools := f.svc.Tools()

	byName := map[string]Tool{}
	for _, tool := range tools {
		byName[tool.Name] = tool
	}
	require.Len(t, byName, 5)

	args, err := json.Marshal(AskParams{ConversationID: "conv-1", Run: 1, Prompt: "q"})
	require.NoError(t, err)
	res, err := byName["ask"].Handler(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, SignalSuspend, res.Signal)

	_, err = byName["delegate"].Handler(context.Background(), json.RawMessage(`{not json`))
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}
