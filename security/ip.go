package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the client IP address from the request.
// When trustProxy is set, the X-Forwarded-For and X-Real-IP headers are
// consulted; only enable this behind a trusted reverse proxy, since
// clients can forge these headers on direct connections.
func GetClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// The first address is the original client; later hops append.
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
