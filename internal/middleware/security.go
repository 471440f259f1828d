package middleware

import (
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// SecurityHeaders hardens every response. mediaOrigins lists the extra
// origins uploads are served from, typically the CDN or bucket behind
// media.public_prefix; relative prefixes are same-origin and add nothing.
func SecurityHeaders(mediaOrigins ...string) gin.HandlerFunc {
	csp := ContentSecurityPolicy(mediaOrigins...)
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Content-Security-Policy", csp)
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		c.Next()
	}
}

// ContentSecurityPolicy builds the policy for the campus site. Avatars and
// post attachments are the only resources that may come from elsewhere, so
// img-src and media-src are the only directives that widen.
func ContentSecurityPolicy(mediaOrigins ...string) string {
	sources := []string{"'self'"}
	for _, raw := range mediaOrigins {
		origin := originOf(raw)
		if origin == "" || containsString(sources, origin) {
			continue
		}
		sources = append(sources, origin)
	}
	media := strings.Join(sources, " ")

	return strings.Join([]string{
		"default-src 'self'",
		"img-src " + media + " data: blob:",
		"media-src " + media + " blob:",
		"object-src 'none'",
		"frame-ancestors 'none'",
	}, "; ")
}

func originOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
