// ABOUTME: Request-context propagation of the authenticated subject
// ABOUTME: Provides WithSubject/SubjectFrom for handlers and audit records

package auth

import "context"

type subjectKey struct{}

// WithSubject returns a context carrying the verified token subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFrom returns the subject stored by WithSubject, or "" if none.
func SubjectFrom(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}
