package context

import "context"

type contextKey string

const (
	requestIDKey contextKey = "observability_request_id"
	meetingIDKey contextKey = "observability_meeting_id"
	actorKey     contextKey = "observability_actor"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithMeetingID tags a context with the meeting a request operates on, so
// every log line of a settlement attempt can be correlated.
func WithMeetingID(ctx context.Context, meetingID string) context.Context {
	if ctx == nil || meetingID == "" {
		return ctx
	}
	return context.WithValue(ctx, meetingIDKey, meetingID)
}

func MeetingIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(meetingIDKey).(string)
	return value
}

// WithActor records who triggered the request (an operator, the sweeper).
func WithActor(ctx context.Context, actor string) context.Context {
	if ctx == nil || actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(actorKey).(string)
	return value
}
