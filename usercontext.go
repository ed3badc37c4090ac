package cuberepo

import (
	"context"
	"os/user"
)

type userContextKey struct{}

// WithUser returns a context carrying the acting user id. Callers set it per
// request; operations read it through UserFrom.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

// UserFrom resolves the acting user: explicit context value, then the "user"
// system parameter, then the OS user.
func UserFrom(ctx context.Context) string {
	if v, ok := ctx.Value(userContextKey{}).(string); ok && v != "" {
		return v
	}
	if v := SystemParam("user"); v != "" {
		return v
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
