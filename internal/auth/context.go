package auth

import "context"

type contextKey struct{}

// AuthContext is the caller identity attached to a request.
type AuthContext struct {
	UserID  int64
	TokenID string
	// Internal is set for requests authenticated with the internal key.
	Internal bool
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.UserID
}

func IsInternal(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	return ok && ac.Internal
}
