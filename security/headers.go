package security

import "net/http"

// SetSecurityHeaders sets the headers used on every login endpoint response.
// The redirects carry codes and state in their URLs, so they must never be
// cached or leaked through the Referer header.
func SetSecurityHeaders(w http.ResponseWriter, https bool) {
	h := w.Header()

	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")

	if https {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	h.Set("Pragma", "no-cache")
}
