package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_Tags(t *testing.T) {
	ev := NewEvent(KindDelegateRequest, "review the plan").
		Tag(TagRecipient, "pubkey-b").
		Tag(TagRoot, "root-id").
		Tag(TagProject, "proj:alpha")

	assert.Equal(t, "pubkey-b", ev.Recipient())
	assert.Equal(t, "root-id", ev.Root())
	assert.Equal(t, "proj:alpha", ev.ProjectRef())
}

func TestEvent_Root_FallsBackToOwnID(t *testing.T) {
	ev := NewEvent(KindMessage, "hello")
	ev.ID = "own-id"
	assert.Equal(t, "own-id", ev.Root(), "a root event is its own thread root")
}

func TestEvent_ComputeID_Stable(t *testing.T) {
	ev := NewEvent(KindMessage, "hello")
	ev.Pubkey = "abc"
	ev.CreatedAt = 1700000000

	first := ev.ComputeID()
	second := ev.ComputeID()
	require.Len(t, first, 64)
	assert.Equal(t, first, second)

	ev.Content = "changed"
	assert.NotEqual(t, first, ev.ComputeID(), "content change must change the id")
}

func TestFilter_Matches(t *testing.T) {
	ev := NewEvent(KindDelegateReply, "done").Tag(TagRecipient, "me").Tag(TagRoot, "conv-1")
	ev.Pubkey = "worker"
	ev.CreatedAt = 100

	assert.True(t, Filter{}.Matches(ev), "empty filter matches everything")
	assert.True(t, Filter{Kinds: []Kind{KindDelegateReply}, Recipients: []string{"me"}}.Matches(ev))
	assert.True(t, Filter{Roots: []string{"conv-1"}}.Matches(ev))
	assert.False(t, Filter{Kinds: []Kind{KindMessage}}.Matches(ev))
	assert.False(t, Filter{Authors: []string{"someone-else"}}.Matches(ev))
	assert.False(t, Filter{Since: 200}.Matches(ev))
}
