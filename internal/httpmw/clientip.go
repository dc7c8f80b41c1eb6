package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// unknownPeer is used when the connection address cannot be parsed.
const unknownPeer = "0.0.0.0"

// ClientIPOptions controls how far X-Forwarded-For is trusted.
type ClientIPOptions struct {
	// TrustedHops counts the reverse proxies in front of the service. With 0
	// the forwarded headers are ignored; with 1 the rightmost
	// X-Forwarded-For entry is the client; with 2 the second from the end.
	TrustedHops int
}

// ClientIP resolves the caller address with no trusted proxies.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions stores the resolved caller address in the request
// context for the access log, the rate limiter and the /health report.
// Forwarded headers it does not trust are removed from the request.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

func resolveClientIP(r *http.Request, hops int) string {
	peer, ok := peerIP(r.RemoteAddr)
	if !ok {
		dropForwarded(r)
		return peer
	}

	// only private peers (our load balancers) may speak for someone else
	if hops <= 0 || !net.ParseIP(peer).IsPrivate() {
		dropForwarded(r)
		return peer
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peer
	}
	hopsSeen := strings.Split(xff, ",")
	idx := len(hopsSeen) - hops
	if idx < 0 {
		// shorter chain than configured, fail closed
		dropForwarded(r)
		return peer
	}
	if c := strings.TrimSpace(hopsSeen[idx]); net.ParseIP(c) != nil {
		return c
	}
	return peer
}

// peerIP returns the host part of RemoteAddr and whether it parsed as an IP.
func peerIP(remote string) (string, bool) {
	if remote == "" {
		return unknownPeer, false
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote, false
	}
	if net.ParseIP(host) == nil {
		return unknownPeer, false
	}
	return host, true
}

func dropForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

// ClientIPFromContext returns the address stored by ClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
