package httpmiddleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// requestIDHeader is both the inbound propagation header and the response
// echo, so a client and a proxy can stitch their logs to ours.
const requestIDHeader = "X-Request-ID"

type ctxKeyRequestID struct{}

// RequestIDFromContext returns the request id stored by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return id
}

// RequestID returns a middleware that tags every request with an id. An
// inbound X-Request-ID is honored only when it parses as a UUID; anything
// else is untrusted input and gets replaced with a fresh one. The id is
// echoed on the response and stored in the request context.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.New().String()
			}

			w.Header().Set(requestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(
				context.WithValue(r.Context(), ctxKeyRequestID{}, id),
			))
		})
	}
}
