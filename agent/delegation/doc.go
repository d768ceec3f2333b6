// Package delegation implements the call sites of the delegation protocol:
// delegate, ask, delegate_followup, delegate_crossproject, and
// delegate_multi.
//
// Each outgoing call moves through the same machine: recipient, escalation,
// and cycle checks (Resolving); a pending entry written to the registry
// (Registered); a suspend signal back to the run loop (Awaiting); and, on a
// later turn, a reply observed by the run loop that completes the entry and
// feeds the reply back as conversation input (Resumed, Completed).
// delegate_followup is the one variant that skips Awaiting and returns
// control to the caller immediately.
package delegation
