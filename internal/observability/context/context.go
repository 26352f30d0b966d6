package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type actorKey struct{}
type userIDKey struct{}
type jobKey struct{}

type actor struct {
	typ string
	id  string
}

type job struct {
	id    string
	queue string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// WithActor records who initiated the work: "user", "system" or "operator".
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{
		typ: strings.TrimSpace(actorType),
		id:  strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	v, _ := ctx.Value(actorKey{}).(actor)
	return v.typ, v.id
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, strings.TrimSpace(userID))
}

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(userIDKey{}).(string)
	return v
}

func WithJob(ctx context.Context, jobID, queue string) context.Context {
	return context.WithValue(ctx, jobKey{}, job{id: jobID, queue: queue})
}

func JobFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	v, _ := ctx.Value(jobKey{}).(job)
	return v.id, v.queue
}
