package observability

import (
	"net"
	"net/http"
	"strings"
)

// RequestMeta identifies the client behind an HTTP request for audit
// records and websocket connection info.
type RequestMeta struct {
	DeviceID  string
	RequestID string
	IP        string
}

// MetaFromRequest extracts the client identity headers. The IP prefers the
// first hop of X-Forwarded-For and falls back to the socket peer address.
func MetaFromRequest(r *http.Request) RequestMeta {
	meta := RequestMeta{
		DeviceID:  r.Header.Get("X-Device-Id"),
		RequestID: r.Header.Get("X-Request-Id"),
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		meta.IP = strings.TrimSpace(strings.SplitN(forwarded, ",", 2)[0])
		return meta
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		meta.IP = host
		return meta
	}
	meta.IP = r.RemoteAddr
	return meta
}
