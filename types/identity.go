package types

import "strings"

// AgentIdentity identifies an agent on the mesh. The Pubkey is an opaque
// cryptographic public identifier, stable for the lifetime of the agent,
// and is the primary partition key everywhere in the registry. The Slug is
// a human-readable handle unique within a project.
type AgentIdentity struct {
	Pubkey string `json:"pubkey"`
	Slug   string `json:"slug,omitempty"`
}

// IsZero reports whether the identity carries no pubkey.
func (a AgentIdentity) IsZero() bool {
	return a.Pubkey == ""
}

// Equal compares identities by pubkey only. Slugs are display metadata and
// may differ between projects for the same agent.
func (a AgentIdentity) Equal(other AgentIdentity) bool {
	return a.Pubkey != "" && a.Pubkey == other.Pubkey
}

// String returns "slug (pubkey-prefix)" for log output.
func (a AgentIdentity) String() string {
	pk := a.Pubkey
	if len(pk) > 8 {
		pk = pk[:8]
	}
	if a.Slug == "" {
		return pk
	}
	return a.Slug + " (" + pk + ")"
}

// Hop is one link in a delegation chain. Hops exist for cycle detection and
// human-readable chain display, never for authorization.
type Hop struct {
	DisplayName string `json:"display_name"`
	Pubkey      string `json:"pubkey"`
}

// RunNumber distinguishes successive execution attempts of the same agent
// within the same conversation. A new run number is assigned each time the
// agent's loop restarts after a resume; stale run numbers must not be used
// to re-register work.
type RunNumber int64

// CorrelationID is the transport-assigned id of an outgoing message, used
// to match a later reply to its originating delegation.
type CorrelationID = string

// FormatChain renders a delegation chain as "a -> b -> c" for logs and
// error messages.
func FormatChain(chain []Hop) string {
	if len(chain) == 0 {
		return "(empty)"
	}
	names := make([]string, len(chain))
	for i, h := range chain {
		if h.DisplayName != "" {
			names[i] = h.DisplayName
			continue
		}
		pk := h.Pubkey
		if len(pk) > 8 {
			pk = pk[:8]
		}
		names[i] = pk
	}
	return strings.Join(names, " -> ")
}
