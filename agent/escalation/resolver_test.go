package escalation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmesh/agent/project"
	"github.com/BaSui01/agentmesh/types"
)

var (
	owner  = types.AgentIdentity{Pubkey: "pk-owner", Slug: "owner"}
	triage = types.AgentIdentity{Pubkey: "pk-triage", Slug: "triage"}
)

func TestResolveTarget_Unconfigured(t *testing.T) {
	p := project.NewProject("proj-1", "Alpha", owner)
	r := NewResolver(p, nil, nil)

	target, err := r.ResolveTarget(context.Background())
	require.NoError(t, err)
	assert.Nil(t, target, "no escalation agent configured means route directly")
}

func TestResolveTarget_CurrentMember(t *testing.T) {
	p := project.NewProject("proj-1", "Alpha", owner)
	p.EscalationAgentSlug = "triage"
	p.AddMember(triage)
	r := NewResolver(p, nil, nil)

	target, err := r.ResolveTarget(context.Background())
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, triage.Pubkey, target.Pubkey)
}

func TestResolveTarget_AutoRegistersKnownAgent(t *testing.T) {
	store, err := project.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.SaveAgent(context.Background(), triage, "Triage"))

	p := project.NewProject("proj-1", "Alpha", owner)
	p.EscalationAgentSlug = "triage"
	r := NewResolver(p, store, nil)

	target, err := r.ResolveTarget(context.Background())
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, triage.Pubkey, target.Pubkey)
	assert.True(t, p.IsMember(triage.Pubkey), "known agent must be auto-added to the project")

	durable, err := store.IsMember(context.Background(), "proj-1", triage.Pubkey)
	require.NoError(t, err)
	assert.True(t, durable)
}

func TestResolveTarget_UnknownSlugIsHardError(t *testing.T) {
	store, err := project.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	defer store.Close()

	p := project.NewProject("proj-1", "Alpha", owner)
	p.EscalationAgentSlug = "ghost"
	r := NewResolver(p, store, nil)

	_, err = r.ResolveTarget(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrEscalationInvalid, types.GetErrorCode(err))
}
