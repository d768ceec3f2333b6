// Package runloop dispatches inbound relay events back into suspended
// agent runs. It owns the resume side of the delegation protocol: matching
// replies to pending delegations, enforcing the fan-in barrier for
// batched delegations, and assigning fresh run numbers on resume.
package runloop
