// Package requestctx holds request-scoped values that services read from
// context.Context instead of global session state.
//
// Middleware sets the values; services read them:
//
//	actor := requestctx.ActorFrom(ctx)
//	reqID := requestctx.RequestID(ctx)
package requestctx

import "context"

type (
	actorKey     struct{}
	requestIDKey struct{}
	clientKey    struct{}
)

// Actor is the authenticated librarian/admin performing the request.
type Actor struct {
	UserID string
	Role   string
}

func (a Actor) IsZero() bool { return a.UserID == "" }

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the zero Actor when no user is attached (system jobs).
func ActorFrom(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok {
		return a
	}
	return Actor{}
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithClient stores a short client description ("Chrome 120 / Windows 10").
func WithClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, clientKey{}, client)
}

func Client(ctx context.Context) string {
	if c, ok := ctx.Value(clientKey{}).(string); ok {
		return c
	}
	return ""
}
