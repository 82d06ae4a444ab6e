package middleware

import (
	"crypto/subtle"
	"net/http"
)

const csrfHeaderName = "X-Apprun-Csrf-Token"
const csrfCookieName = "apprun_csrf"

// safeMethods don't require a CSRF token: they're not expected to mutate
// state per HTTP semantics.
var safeMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// CSRF rejects unsafe requests (POST/PUT/PATCH/DELETE) unless the
// X-Apprun-Csrf-Token header matches the apprun_csrf cookie set on the
// session, the double-submit-cookie pattern. Safe methods and requests
// whose context was marked by WithAPIKeyAuthenticated are exempt.
func CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if safeMethods[r.Method] || IsAPIKeyAuthenticated(r.Context()) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(csrfCookieName)
		if err != nil || cookie.Value == "" {
			http.Error(w, "missing csrf cookie", http.StatusForbidden)
			return
		}
		token := r.Header.Get(csrfHeaderName)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(cookie.Value)) != 1 {
			http.Error(w, "csrf token mismatch", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
