package auditctx

import "context"

// Actor identifies the authenticated principal behind a request. Service
// layers use it to attribute grants, revocations, and secret mutations when
// the caller does not pass an explicit actor.
type Actor struct {
	UserID    string
	IPAddress string
	UserAgent string
}

type actorContextKey struct{}

// WithActor injects actor metadata into the supplied context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		return context.WithValue(context.Background(), actorContextKey{}, actor)
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// FromContext extracts previously stored actor metadata from the context.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
