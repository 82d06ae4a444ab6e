package middleware

import (
	"net/http"

	"apprun/internal/ctxkeys"
)

// correlationHeaderName is the response header the front door echoes the
// request's correlation id on, so a client or proxy can tie a response back
// to the front door's logs for that request.
const correlationHeaderName = "X-Apprun-Request-Id"

// Correlation ensures every request carries a correlation id: reused from
// the inbound header if the caller supplied one, generated otherwise, and
// always echoed back on the response.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if incoming := r.Header.Get(correlationHeaderName); incoming != "" {
			ctx = ctxkeys.WithCorrelationID(ctx, incoming)
		}
		ctx, id := ctxkeys.EnsureCorrelationID(ctx)

		w.Header().Set(correlationHeaderName, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
