package delegation

import "github.com/BaSui01/agentmesh/types"

// WouldCreateCircularDelegation reports whether adding candidate as the
// next hop would create a cycle: true iff the candidate's pubkey already
// appears anywhere in the chain.
//
// A nil or empty chain always returns false; the first hop can never be
// circular. The check never fails: missing chain data is treated as "no
// cycle", since blocking progress on a best-effort safety check is worse
// than letting an occasional re-delegation through.
//
// Matching is by identity only. A legitimate later re-delegation to a
// prior participant is indistinguishable from a true cycle; callers with a
// safe fallback (escalation) downgrade instead of failing.
func WouldCreateCircularDelegation(chain []types.Hop, candidate types.AgentIdentity) bool {
	if candidate.Pubkey == "" {
		return false
	}
	for _, hop := range chain {
		if hop.Pubkey == candidate.Pubkey {
			return true
		}
	}
	return false
}
