package relay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Kind identifies the semantic type of an event on the wire.
type Kind int

// Event kinds used by the delegation protocol. The concrete wire encoding
// of each kind's content is owned by the producing component; the transport
// treats content as opaque.
const (
	KindMessage         Kind = 1
	KindDelegateRequest Kind = 9301
	KindDelegateReply   Kind = 9302
	KindStatusUpdate    Kind = 9303
	KindTombstone       Kind = 9304
)

// Well-known tag names.
const (
	TagRecipient = "p" // recipient pubkey
	TagRoot      = "e" // thread-root correlation id
	TagProject   = "a" // project reference, cross-project calls only
	TagPhase     = "phase"
)

// Event is one signed, addressed message on the relay network. The ID is
// assigned at signing time and is the correlation id for the whole thread
// rooted at this event.
type Event struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      Kind       `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// NewEvent creates an unsigned event with the current timestamp.
func NewEvent(kind Kind, content string) *Event {
	return &Event{
		Kind:      kind,
		CreatedAt: time.Now().Unix(),
		Content:   content,
	}
}

// Tag appends a tag and returns the event for chaining.
func (e *Event) Tag(name string, values ...string) *Event {
	e.Tags = append(e.Tags, append([]string{name}, values...))
	return e
}

// TagValue returns the first value of the first tag with the given name.
func (e *Event) TagValue(name string) string {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}

// TagValues returns the first value of every tag with the given name.
func (e *Event) TagValues(name string) []string {
	var out []string
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			out = append(out, t[1])
		}
	}
	return out
}

// Recipient returns the pubkey the event is addressed to, if any.
func (e *Event) Recipient() string { return e.TagValue(TagRecipient) }

// Root returns the thread-root correlation id, or the event's own id for a
// root event.
func (e *Event) Root() string {
	if root := e.TagValue(TagRoot); root != "" {
		return root
	}
	return e.ID
}

// ProjectRef returns the project-reference tag for cross-project events.
func (e *Event) ProjectRef() string { return e.TagValue(TagProject) }

// ComputeID returns the canonical content hash of the event. The hash
// covers everything except the id and signature, so signing is stable.
func (e *Event) ComputeID() string {
	canonical, _ := json.Marshal([]any{
		0, e.Pubkey, e.CreatedAt, e.Kind, e.Tags, e.Content,
	})
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Filter selects events from a relay subscription.
type Filter struct {
	Kinds      []Kind   `json:"kinds,omitempty"`
	Authors    []string `json:"authors,omitempty"`
	Recipients []string `json:"#p,omitempty"`
	Roots      []string `json:"#e,omitempty"`
	Since      int64    `json:"since,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// Matches reports whether the event satisfies the filter.
func (f Filter) Matches(e *Event) bool {
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, e.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !containsString(f.Authors, e.Pubkey) {
		return false
	}
	if len(f.Recipients) > 0 && !containsString(f.Recipients, e.Recipient()) {
		return false
	}
	if len(f.Roots) > 0 && !containsString(f.Roots, e.Root()) {
		return false
	}
	if f.Since > 0 && e.CreatedAt < f.Since {
		return false
	}
	return true
}

func containsKind(kinds []Kind, k Kind) bool {
	for _, v := range kinds {
		if v == k {
			return true
		}
	}
	return false
}

func containsString(vals []string, s string) bool {
	for _, v := range vals {
		if v == s {
			return true
		}
	}
	return false
}
