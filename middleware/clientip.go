package middleware

import (
	"net"
	"net/http"
	"strings"

	authkernel "github.com/Mosleh92/exchange-platform-v3-sub012"
)

// DeviceHeader carries the client's stable device id.
const DeviceHeader = "X-Device-ID"

// ClientInfo attaches authkernel.ClientInfo to the request context.
// X-Forwarded-For is honoured only when trustProxy is set.
func ClientInfo(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := authkernel.WithClientInfo(r.Context(), authkernel.ClientInfo{
				IP:        ClientIP(r, trustProxy),
				UserAgent: r.UserAgent(),
				DeviceID:  strings.TrimSpace(r.Header.Get(DeviceHeader)),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop behind a trusted proxy,
// otherwise the connection address.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
