package helpers

import (
	"net"
	"net/http"
	"strings"
)

// GetRealIP extracts the client address, preferring X-Forwarded-For and
// X-Real-IP over RemoteAddr. These headers are only trustworthy behind
// a proxy that strips client-supplied values; the deployment is assumed
// to provide that.
func GetRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First parseable entry is the client.
		for _, part := range strings.Split(xff, ",") {
			ipStr := strings.TrimSpace(part)
			if ip := net.ParseIP(ipStr); ip != nil {
				return ip.String()
			}
		}
	}

	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		if ip := net.ParseIP(xr); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(r.RemoteAddr); ip != nil {
		return ip.String()
	}
	return r.RemoteAddr
}
