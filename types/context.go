package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyConversationID contextKey = "conversation_id"
	keyRunNumber      contextKey = "run_number"
	keyProjectID      contextKey = "project_id"
)

// WithConversationID adds the owning conversation id to context.
func WithConversationID(ctx context.Context, id CorrelationID) context.Context {
	return context.WithValue(ctx, keyConversationID, id)
}

// ConversationID extracts the conversation id from context.
func ConversationID(ctx context.Context) (CorrelationID, bool) {
	v, ok := ctx.Value(keyConversationID).(CorrelationID)
	return v, ok && v != ""
}

// WithRunNumber adds the current run number to context.
func WithRunNumber(ctx context.Context, run RunNumber) context.Context {
	return context.WithValue(ctx, keyRunNumber, run)
}

// CurrentRunNumber extracts the run number from context.
func CurrentRunNumber(ctx context.Context) (RunNumber, bool) {
	v, ok := ctx.Value(keyRunNumber).(RunNumber)
	return v, ok
}

// WithProjectID adds the owning project id to context.
func WithProjectID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyProjectID, id)
}

// ProjectID extracts the project id from context.
func ProjectID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyProjectID).(string)
	return v, ok && v != ""
}
