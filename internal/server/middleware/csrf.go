package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/textextract/textextract/internal/server/respond"
)

// CSRF protects state-changing requests. Safe methods and paths with an
// exempt prefix pass through; every other request must carry X-CSRF-Token
// and at least one of Origin or Referer resolving to an allowed origin, and
// is rejected with 403 otherwise.
func CSRF(allowedOrigins []string, exemptPrefixes []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimSuffix(o, "/")] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			for _, p := range exemptPrefixes {
				if strings.HasPrefix(r.URL.Path, p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			if r.Header.Get("X-CSRF-Token") == "" {
				respond.Error(w, http.StatusForbidden, "missing CSRF token")
				return
			}
			origin := requestOrigin(r)
			if origin == "" {
				respond.Error(w, http.StatusForbidden, "missing origin")
				return
			}
			if _, ok := allowed[origin]; !ok {
				respond.Error(w, http.StatusForbidden, "origin not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestOrigin resolves the request's origin from the Origin header, falling
// back to the Referer's scheme://host.
func requestOrigin(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" && o != "null" {
		return strings.TrimSuffix(o, "/")
	}
	ref := r.Header.Get("Referer")
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
