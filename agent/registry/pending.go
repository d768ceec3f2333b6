package registry

import (
	"fmt"
	"time"

	"github.com/BaSui01/agentmesh/types"
)

// Kind discriminates the pending-delegation variants.
type Kind string

const (
	// KindAsk is a question routed toward a human, possibly via an
	// escalation agent.
	KindAsk Kind = "ask"
	// KindDelegate is a stop-and-wait delegation to another agent.
	KindDelegate Kind = "delegate"
	// KindFollowup is a fire-and-forget follow-up on an earlier delegation.
	KindFollowup Kind = "followup"
	// KindExternal is a delegation addressed into a sibling project.
	KindExternal Kind = "external"
)

// PendingDelegation is one outstanding call, discriminated by Kind. The
// variant payload fields are only meaningful for their own kind; Validate
// enforces that.
type PendingDelegation struct {
	Kind Kind `json:"kind"`

	// DelegationConversationID is the id of the outgoing call's root event
	// and the key replies correlate on.
	DelegationConversationID types.CorrelationID `json:"delegation_conversation_id"`

	Recipient types.AgentIdentity `json:"recipient"`
	Sender    types.AgentIdentity `json:"sender"`
	Prompt    string              `json:"prompt"`

	// RunNumber is the run that registered the entry. Follow-ups always
	// register under the caller's current run, never the run recorded on
	// the original delegation.
	RunNumber types.RunNumber `json:"run_number"`

	// Suggestions are preset answer options, ask variant only.
	Suggestions []string `json:"suggestions,omitempty"`
	// FollowupEventID is the id of the follow-up event, followup variant only.
	FollowupEventID string `json:"followup_event_id,omitempty"`
	// ProjectID references the sibling project, external variant only.
	ProjectID string `json:"project_id,omitempty"`

	// Phase carries the instruction-set label for phase-scoped delegations.
	Phase string `json:"phase,omitempty"`

	RegisteredAt time.Time `json:"registered_at"`
}

// Validate checks the entry's shape, matching exhaustively on Kind.
func (p PendingDelegation) Validate() error {
	if p.DelegationConversationID == "" {
		return fmt.Errorf("pending delegation: missing delegation conversation id")
	}
	if p.Recipient.IsZero() {
		return fmt.Errorf("pending delegation %s: missing recipient", p.DelegationConversationID)
	}
	switch p.Kind {
	case KindAsk, KindDelegate:
		return nil
	case KindFollowup:
		if p.FollowupEventID == "" {
			return fmt.Errorf("pending followup %s: missing followup event id", p.DelegationConversationID)
		}
		return nil
	case KindExternal:
		if p.ProjectID == "" {
			return fmt.Errorf("pending external delegation %s: missing project id", p.DelegationConversationID)
		}
		return nil
	default:
		return fmt.Errorf("pending delegation %s: unknown kind %q", p.DelegationConversationID, p.Kind)
	}
}

// CompletedDelegation is a pending delegation that has observed its reply.
// Completed entries are never deleted.
type CompletedDelegation struct {
	PendingDelegation

	ReplyEventID string    `json:"reply_event_id"`
	ReplyContent string    `json:"reply_content"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Lookup is the result of a reverse lookup by delegation conversation id.
// At most one of the fields is set: completion removes the pending entry in
// the same critical section that records the completed one.
type Lookup struct {
	Pending   *PendingDelegation
	Completed *CompletedDelegation

	// Owner is the bucket holding the pending entry, set only alongside
	// Pending. The run loop uses it to evaluate the fan-in barrier.
	Owner *BucketKey
}

// Found reports whether the lookup resolved anything.
func (l Lookup) Found() bool {
	return l.Pending != nil || l.Completed != nil
}

// Recipient returns the recipient identity from whichever side resolved.
func (l Lookup) Recipient() (types.AgentIdentity, bool) {
	switch {
	case l.Pending != nil:
		return l.Pending.Recipient, true
	case l.Completed != nil:
		return l.Completed.Recipient, true
	default:
		return types.AgentIdentity{}, false
	}
}
