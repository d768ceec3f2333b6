package delegation

import (
	"context"
	"encoding/json"

	"github.com/BaSui01/agentmesh/types"
)

// Tool is one delegation tool as exposed to the agent runtime. Handler
// takes the raw JSON arguments of the tool call.
type Tool struct {
	Name        string
	Description string

	// HumanSummary, when non-empty, is the short line shown to a human
	// watching the run instead of the raw arguments. It is an explicit
	// field of the descriptor, not metadata bolted on after construction.
	HumanSummary string

	Handler func(ctx context.Context, args json.RawMessage) (*ToolResult, error)
}

// Tools lists the delegation tools bound to this service.
func (s *Service) Tools() []Tool {
	return []Tool{
		{
			Name:         "ask",
			Description:  "Ask the project owner (or the escalation agent) a question and wait for the answer.",
			HumanSummary: "Asking a question",
			Handler: func(ctx context.Context, args json.RawMessage) (*ToolResult, error) {
				var p AskParams
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, types.NewError(types.ErrInvalidRequest, "decode ask arguments").WithCause(err)
				}
				return s.Ask(ctx, p)
			},
		},
		{
			Name:         "delegate",
			Description:  "Delegate a task to another agent and wait for the result.",
			HumanSummary: "Delegating a task",
			Handler: func(ctx context.Context, args json.RawMessage) (*ToolResult, error) {
				var p DelegateParams
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, types.NewError(types.ErrInvalidRequest, "decode delegate arguments").WithCause(err)
				}
				return s.Delegate(ctx, p)
			},
		},
		{
			Name:         "delegate_multi",
			Description:  "Delegate the same task to several agents in parallel and wait for all results.",
			HumanSummary: "Delegating to multiple agents",
			Handler: func(ctx context.Context, args json.RawMessage) (*ToolResult, error) {
				var p MultiParams
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, types.NewError(types.ErrInvalidRequest, "decode delegate_multi arguments").WithCause(err)
				}
				return s.DelegateMulti(ctx, p)
			},
		},
		{
			Name:        "delegate_followup",
			Description: "Send a follow-up message into an existing delegation without waiting for a reply.",
			Handler: func(ctx context.Context, args json.RawMessage) (*ToolResult, error) {
				var p FollowupParams
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, types.NewError(types.ErrInvalidRequest, "decode delegate_followup arguments").WithCause(err)
				}
				return s.DelegateFollowup(ctx, p)
			},
		},
		{
			Name:         "delegate_crossproject",
			Description:  "Delegate a task to an agent in another project and wait for the result.",
			HumanSummary: "Delegating across projects",
			Handler: func(ctx context.Context, args json.RawMessage) (*ToolResult, error) {
				var p CrossProjectParams
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, types.NewError(types.ErrInvalidRequest, "decode delegate_crossproject arguments").WithCause(err)
				}
				return s.DelegateCrossProject(ctx, p)
			},
		},
	}
}
