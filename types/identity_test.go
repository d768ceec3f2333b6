package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgentIdentity_Equal(t *testing.T) {
	a := AgentIdentity{Pubkey: "abc123", Slug: "planner"}
	b := AgentIdentity{Pubkey: "abc123", Slug: "planner-renamed"}
	c := AgentIdentity{Pubkey: "def456", Slug: "planner"}

	assert.True(t, a.Equal(b), "same pubkey must compare equal regardless of slug")
	assert.False(t, a.Equal(c), "different pubkey must not compare equal")
	assert.False(t, AgentIdentity{}.Equal(AgentIdentity{}), "zero identities never match")
}

func TestFormatChain(t *testing.T) {
	assert.Equal(t, "(empty)", FormatChain(nil))
	chain := []Hop{
		{DisplayName: "orchestrator", Pubkey: "aaaaaaaaaaaa"},
		{Pubkey: "bbbbbbbbbbbb"},
	}
	assert.Equal(t, "orchestrator -> bbbbbbbb", FormatChain(chain))
}
