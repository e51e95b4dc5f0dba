package httputil

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// RequestOrigin returns scheme://host for r. A configured public origin always
// wins; otherwise X-Forwarded-Proto/Host are honoured only from trusted
// proxies.
func RequestOrigin(r *http.Request, publicOrigin string) string {
	if publicOrigin != "" {
		return publicOrigin
	}
	trusted := false
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if ip := net.ParseIP(host); ip != nil {
			trusted = fromTrustedProxy(ip, GetTrustedProxies(r.Context()))
		}
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	} else if trusted {
		switch p := strings.ToLower(r.Header.Get("X-Forwarded-Proto")); p {
		case "http", "https":
			scheme = p
		}
	}
	host := r.Host
	if trusted {
		if fh := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-Host"), ",")[0]); fh != "" {
			host = fh
		}
	}
	return scheme + "://" + host
}

// SameOriginTarget validates a client-supplied redirect target against
// origin. It accepts absolute URLs whose scheme and host equal origin's and
// rooted relative paths. On success it returns the path and query to
// redirect to; fragments and userinfo are never carried over.
func SameOriginTarget(raw, origin string) (string, bool) {
	if raw == "" || strings.ContainsAny(raw, "\\\r\n\t") {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Opaque != "" || u.User != nil {
		return "", false
	}

	if u.Scheme != "" || u.Host != "" {
		o, err := url.Parse(origin)
		if err != nil || o.Host == "" {
			return "", false
		}
		if !strings.EqualFold(u.Scheme, o.Scheme) || !strings.EqualFold(u.Host, o.Host) {
			return "", false
		}
	} else if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return "", false
	}

	// Reject paths that only become protocol-relative once decoded
	// (e.g. /%2F%2Fevil.example).
	if strings.HasPrefix(u.Path, "//") {
		return "", false
	}

	out := u.EscapedPath()
	if out == "" {
		out = "/"
	}
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out, true
}
