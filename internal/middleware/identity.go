package middleware

import (
	"context"
	"net/http"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/wishlist-sync/internal/metrics"
)

// UserHeader carries the caller's opaque device identity.
const UserHeader = "X-Wish-User"

// UserKey is the context key for the caller's identity.
const UserKey contextKey = "wish_user"

// MaxUserIDLength bounds the identity header value.
const MaxUserIDLength = 128

// Identity attaches the X-Wish-User value to the request context. The
// header is optional and possession of the identifier is the only proof of
// identity. A malformed value is rejected with 400.
func Identity(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, present := r.Header[http.CanonicalHeaderKey(UserHeader)]
			if !present {
				next.ServeHTTP(w, r)
				return
			}

			user := strings.TrimSpace(raw[0])
			if !validToken(user, MaxUserIDLength) {
				metrics.IdentityRejections.Inc()
				logger.Warn("rejected malformed identity header",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("request_id", requestID(r)),
				)
				writeError(w, http.StatusBadRequest, "malformed "+UserHeader+" header")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserKey, user)))
		})
	}
}

// UserFromContext returns the caller identity, or "" when none was sent.
func UserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(UserKey).(string)
	return user
}

// validToken accepts 1..maxLen bytes with no spaces or control characters.
func validToken(s string, maxLen int) bool {
	if s == "" || len(s) > maxLen {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) < 0
}
