package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/cartsync/internal/remotecart"
	"github.com/fjod/cartsync/internal/session"
)

const (
	SessionHeader = "X-Session-ID"
	UserHeader    = "X-User-ID"
)

type ctxKey int

const sessionKey ctxKey = iota

// SessionMiddleware resolves the client session from X-Session-ID. When
// X-User-ID is present the session is signed in as that user first, which
// reconciles its cart on the first sign-in. A failed reconciliation leaves
// the session on its local cart.
func SessionMiddleware(reg *session.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(SessionHeader)
			if id == "" {
				id = r.URL.Query().Get("session")
			}
			sess, err := reg.Get(r.Context(), id)
			if err != nil {
				handleError(w, r, err)
				return
			}

			if userID := r.Header.Get(UserHeader); userID != "" {
				_, err := sess.Login(r.Context(), userID)
				switch {
				case errors.Is(err, remotecart.ErrIdentityMismatch):
					handleError(w, r, err)
					return
				case err != nil:
					// the session keeps working on its local cart
					slog.WarnContext(r.Context(), "sign-in sync failed", "session", sess.ID, "user_id", userID, "error", err)
				}
			}

			ctx := context.WithValue(r.Context(), sessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionFrom(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey).(*session.Session)
	return s
}
