package session

import "context"

type sessionMetaContextKey string

const (
	sessionIDContextKey sessionMetaContextKey = "session_id"
	turnIDContextKey    sessionMetaContextKey = "turn_id"
)

// WithSessionMeta stores session and turn identifiers in context so that
// generators and event subscribers can correlate work for a single turn.
func WithSessionMeta(ctx context.Context, sessionID, turnID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if sessionID != "" {
		ctx = context.WithValue(ctx, sessionIDContextKey, sessionID)
	}
	if turnID != "" {
		ctx = context.WithValue(ctx, turnIDContextKey, turnID)
	}
	return ctx
}

// SessionIDFromContext returns the session identifier attached with
// WithSessionMeta, or "" when unavailable.
func SessionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	sessionID, _ := ctx.Value(sessionIDContextKey).(string)
	return sessionID
}

func TurnIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	turnID, _ := ctx.Value(turnIDContextKey).(string)
	return turnID
}
