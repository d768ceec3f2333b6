package delegation

import "github.com/BaSui01/agentmesh/agent/registry"

// Signal tells the run-loop dispatcher what to do after a tool call.
type Signal int

const (
	// SignalContinue lets the run keep executing.
	SignalContinue Signal = iota
	// SignalSuspend stops the run until a reply event arrives. The result
	// carries the newly registered pending calls the run is waiting on.
	SignalSuspend
)

// ToolResult is the outcome of one delegation tool call. Suspension is an
// explicit result variant handled by the dispatcher, never a sentinel
// error.
type ToolResult struct {
	Signal Signal `json:"signal"`

	// Output is the text surfaced back to the calling agent.
	Output string `json:"output,omitempty"`

	// Warnings reports non-fatal resolution problems (fan-out recipients
	// that could not be resolved).
	Warnings []string `json:"warnings,omitempty"`

	// Pending lists the delegations registered by this call.
	Pending []registry.PendingDelegation `json:"pending,omitempty"`
}

// Continue builds a continue result.
func Continue(output string) *ToolResult {
	return &ToolResult{Signal: SignalContinue, Output: output}
}

// Suspend builds a suspend result carrying the registered pending calls.
func Suspend(output string, pending ...registry.PendingDelegation) *ToolResult {
	return &ToolResult{Signal: SignalSuspend, Output: output, Pending: pending}
}
