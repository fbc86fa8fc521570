package auth

import "context"

type subjectKey struct{}

// WithSubject returns a copy of ctx carrying the authenticated user id.
func WithSubject(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, subjectKey{}, userID)
}

// SubjectFromContext returns the authenticated user id stored in ctx.
func SubjectFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(subjectKey{}).(string)
	return id, ok && id != ""
}
