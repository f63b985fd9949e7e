package auth

import "context"

type contextKey string

const (
	contextKeyUser contextKey = "user"
	contextKeyRole contextKey = "role"
)

// WithUser adds a username and role to the context
func WithUser(ctx context.Context, username, role string) context.Context {
	ctx = context.WithValue(ctx, contextKeyUser, username)
	return context.WithValue(ctx, contextKeyRole, role)
}

// GetUser extracts the username from the context
func GetUser(ctx context.Context) string {
	if user, ok := ctx.Value(contextKeyUser).(string); ok {
		return user
	}
	return ""
}

// GetRole extracts the role from the context
func GetRole(ctx context.Context) string {
	if role, ok := ctx.Value(contextKeyRole).(string); ok {
		return role
	}
	return ""
}
