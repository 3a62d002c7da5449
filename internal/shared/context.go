package shared

import "context"

type sessionContextKey struct{}

type sessionLoadingKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithSessionLoading marks that the session store did not answer in time.
func ContextWithSessionLoading(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionLoadingKey{}, true)
}

// SessionLoading reports whether the session is still unresolved for this request.
func SessionLoading(ctx context.Context) bool {
	loading, _ := ctx.Value(sessionLoadingKey{}).(bool)
	return loading
}
