package auth

import "context"

type contextKey string

const contextKeyOwner contextKey = "owner"

// WithOwner stores the authenticated calendar owner on ctx.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, contextKeyOwner, owner)
}

// OwnerFromContext returns the authenticated owner, if any.
func OwnerFromContext(ctx context.Context) (string, bool) {
	o, ok := ctx.Value(contextKeyOwner).(string)
	return o, ok && o != ""
}
