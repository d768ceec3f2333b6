// Package conversation persists per-conversation state: the ordered event
// history and the metadata bag carrying the delegation chain, the
// read-file set, and per-agent model overrides. Two backends are
// provided, in-memory for tests and single-process runs, and redis for
// deployments that must survive restarts.
package conversation
