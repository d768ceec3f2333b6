// Package registry tracks outstanding and completed delegations: the
// process-wide source of truth for "what is this agent waiting on".
//
// Buckets are keyed by (agent pubkey, conversation id, run number). Within
// a bucket, merging is idempotent and commutative: re-registering a
// delegation with an id already present is a no-op, so at-least-once
// delivery from the relay network can never duplicate an entry. Completed
// delegations are retained forever so a later follow-up can still resolve
// the recipient after the owning run has been cleared.
//
// The registry is the one piece of shared mutable state in the process.
// Bucket mutations are guarded by a lock scoped to the bucket key, not a
// single global lock, so unrelated conversations never serialize on each
// other.
package registry
