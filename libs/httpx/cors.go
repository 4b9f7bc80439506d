package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	defaultCORSMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	defaultCORSHeaders = []string{"Content-Type", "Authorization", "Idempotency-Key", TenantHeader, RequestIDHeader}
)

// CORSPolicy lists the origins allowed to call the API from a browser.
// Entries are exact origins, "*" or a subdomain wildcard such as
// "https://*.example.com". Empty method and header lists fall back to the
// booking API defaults.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// WithCORS is a no-op when AllowedOrigins is empty.
func WithCORS(cfg CORSPolicy) Middleware {
	origins := normalizeList(cfg.AllowedOrigins)
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	methods := normalizeList(cfg.AllowedMethods)
	if len(methods) == 0 {
		methods = defaultCORSMethods
	}
	headersList := normalizeList(cfg.AllowedHeaders)
	if len(headersList) == 0 {
		headersList = defaultCORSHeaders
	}
	allowMethods := strings.Join(methods, ", ")
	allowHeaders := strings.Join(headersList, ", ")
	exposeHeaders := strings.Join(normalizeList(cfg.ExposedHeaders), ", ")
	maxAge := int(cfg.MaxAge.Seconds())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			allow, ok := matchOrigin(origin, origins, cfg.AllowCredentials)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Origin", allow)
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if exposeHeaders != "" {
				h.Set("Access-Control-Expose-Headers", exposeHeaders)
			}

			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				next.ServeHTTP(w, r)
				return
			}
			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			h.Set("Access-Control-Allow-Methods", allowMethods)
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			if maxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(maxAge))
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func matchOrigin(origin string, allowed []string, credentials bool) (string, bool) {
	for _, pattern := range allowed {
		switch {
		case pattern == "*":
			if credentials {
				return origin, true
			}
			return "*", true
		case strings.EqualFold(pattern, origin):
			return origin, true
		case wildcardMatch(pattern, origin):
			return origin, true
		}
	}
	return "", false
}

// wildcardMatch handles "scheme://*.domain". The bare domain does not match.
func wildcardMatch(pattern, origin string) bool {
	scheme, host, ok := strings.Cut(pattern, "://*.")
	if !ok {
		return false
	}
	prefix := strings.ToLower(scheme + "://")
	o := strings.ToLower(origin)
	if !strings.HasPrefix(o, prefix) {
		return false
	}
	rest := strings.TrimPrefix(o, prefix)
	suffix := "." + strings.ToLower(host)
	return strings.HasSuffix(rest, suffix) && len(rest) > len(suffix)
}
