package delegation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/agentmesh/types"
)

func TestWouldCreateCircularDelegation(t *testing.T) {
	chain := []types.Hop{
		{DisplayName: "orchestrator", Pubkey: "pk-orch"},
		{DisplayName: "planner", Pubkey: "pk-plan"},
	}

	tests := []struct {
		name      string
		chain     []types.Hop
		candidate types.AgentIdentity
		want      bool
	}{
		{"empty chain never cycles", nil, types.AgentIdentity{Pubkey: "pk-orch"}, false},
		{"zero candidate never cycles", chain, types.AgentIdentity{}, false},
		{"pubkey in chain", chain, types.AgentIdentity{Pubkey: "pk-plan", Slug: "planner"}, true},
		{"pubkey match ignores display name", chain, types.AgentIdentity{Pubkey: "pk-orch", Slug: "renamed"}, true},
		{"pubkey not in chain", chain, types.AgentIdentity{Pubkey: "pk-new"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WouldCreateCircularDelegation(tt.chain, tt.candidate))
		})
	}
}
