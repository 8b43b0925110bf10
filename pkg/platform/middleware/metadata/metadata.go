// Package metadata records the caller's network identity for request logs.
package metadata

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type metadataKey struct{}

// Client describes where a request came from.
type Client struct {
	IP        string
	UserAgent string
}

// ClientMetadata stores the request's Client in its context.
// Apply it before the request logger.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := Client{IP: ClientIPFromRequest(r), UserAgent: r.Header.Get("User-Agent")}
		next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), c)))
	})
}

// FromContext returns the stored Client, or the zero value.
func FromContext(ctx context.Context) Client {
	c, _ := ctx.Value(metadataKey{}).(Client)
	return c
}

// WithClient injects client metadata. Useful in tests that skip the middleware.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, metadataKey{}, c)
}

// ClientIPFromRequest prefers the first X-Forwarded-For hop, then X-Real-IP,
// then the connection's remote address.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
