package auth

import "context"

type contextKey string

const callerTokenContextKey contextKey = "consulta_caller_token"

// WithCallerToken stashes the raw session token on the context so the record
// store clients can forward it to the upstream services unchanged.
func WithCallerToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, callerTokenContextKey, token)
}

// CallerToken extracts the raw session token from the context.
func CallerToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(callerTokenContextKey).(string)
	if !ok || token == "" {
		return "", false
	}
	return token, true
}
