package security

import (
	"net/url"
	"strings"
)

// IsLocalRedirect reports whether target stays on host: either a path-relative
// URL ("/orders?id=1") or an absolute http(s) URL whose host equals host.
// Protocol-relative ("//evil.example") and backslash tricks are rejected.
func IsLocalRedirect(target, host string) bool {
	if target == "" {
		return false
	}
	if strings.ContainsAny(target, "\\\r\n\t") {
		return false
	}

	u, err := url.Parse(target)
	if err != nil {
		return false
	}

	if u.Scheme == "" && u.Host == "" {
		// Relative: must be rooted and not protocol-relative.
		return strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//")
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.User != nil {
		return false
	}
	return host != "" && strings.EqualFold(u.Host, host)
}
