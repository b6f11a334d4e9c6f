package security

import (
	"net"
	"net/http"
	"strings"
)

// ProxyConfig tells how far forwarding headers can be trusted.
//
// Only set Trust behind a reverse proxy you control: the headers are client
// supplied otherwise. X-Forwarded-For is read as "client, proxy1, proxy2";
// TrustedProxyCount says how many entries from the right belong to our own
// proxies (0 means 1).
type ProxyConfig struct {
	Trust             bool
	TrustedProxyCount int
}

// ClientIP returns the address of the client that made the request.
func (p ProxyConfig) ClientIP(r *http.Request) string {
	if p.Trust {
		if ip := extractIPFromXFF(r.Header.Get("X-Forwarded-For"), p.TrustedProxyCount); ip != "" {
			return ip
		}
		if ip := extractIPFromXRealIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	return extractIPFromRemoteAddr(r.RemoteAddr)
}

// Scheme returns "https" or "http" for the URL the browser used.
func (p ProxyConfig) Scheme(r *http.Request) string {
	if p.Trust {
		proto := strings.ToLower(strings.TrimSpace(firstValue(r.Header.Get("X-Forwarded-Proto"))))
		if proto == "https" || proto == "http" {
			return proto
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// Host returns the host (and port) the browser used.
func (p ProxyConfig) Host(r *http.Request) string {
	if p.Trust {
		if host := strings.TrimSpace(firstValue(r.Header.Get("X-Forwarded-Host"))); isValidHost(host) {
			return host
		}
	}
	return r.Host
}

// GetClientIP is ProxyConfig{Trust: trustProxy, TrustedProxyCount: n}.ClientIP(r).
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	return ProxyConfig{Trust: trustProxy, TrustedProxyCount: trustedProxyCount}.ClientIP(r)
}

func firstValue(header string) string {
	first, _, _ := strings.Cut(header, ",")
	return first
}

func isValidHost(host string) bool {
	if host == "" || len(host) > 255 {
		return false
	}
	return !strings.ContainsAny(host, "/\\@ \r\n\t")
}

// extractIPFromXFF picks the entry left of the trusted proxies.
//
// Example with trustedProxyCount=2:
//
//	X-Forwarded-For: "1.2.3.4, untrusted-ip, proxy2-ip"
//	ips[len(ips) - 2 - 1] = ips[0] = "1.2.3.4"
func extractIPFromXFF(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")
	proxyCount := trustedProxyCount
	if proxyCount == 0 {
		proxyCount = 1
	}
	clientIndex := len(ips) - proxyCount - 1
	if clientIndex < 0 {
		clientIndex = 0
	}

	clientIP := strings.TrimSpace(ips[clientIndex])
	if net.ParseIP(clientIP) != nil {
		return clientIP
	}
	return ""
}

func extractIPFromXRealIP(xri string) string {
	if net.ParseIP(xri) != nil {
		return xri
	}
	return ""
}

func extractIPFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
