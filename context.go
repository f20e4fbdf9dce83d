package authcore

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type locationContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It is recorded on
// issued sessions and in audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx. It is recorded
// on issued sessions so users can recognize their devices.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithLocation attaches an approximate location label to ctx, typically
// resolved by the transport layer from the client address.
func WithLocation(ctx context.Context, location string) context.Context {
	return context.WithValue(ctx, locationContextKey{}, location)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func locationFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	location, _ := ctx.Value(locationContextKey{}).(string)
	return location
}
