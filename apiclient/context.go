package apiclient

import "context"

type requestIDContextKey struct{}

// WithRequestID attaches a correlation ID to ctx. Requests issued with that
// ctx send it as X-Request-ID instead of a generated one.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext returns the ID attached by [WithRequestID].
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	requestID, _ := ctx.Value(requestIDContextKey{}).(string)
	return requestID, requestID != ""
}
