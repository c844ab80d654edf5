package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
)

// SessionName is the cookie session holding the OAuth-authenticated user.
const SessionName = "babl_session"

type ctxKey struct{}

func WithUserID(ctx context.Context, userID uint) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

func UserID(ctx context.Context) (uint, bool) {
	id, ok := ctx.Value(ctxKey{}).(uint)
	return id, ok && id != 0
}

// Accounts reports whether a user id still belongs to a live account.
type Accounts interface {
	Active(ctx context.Context, userID uint) (bool, error)
}

// UserMiddleware authenticates a request by "Authorization: Token <t>" (or
// Bearer) or, failing that, by the session cookie. Credentials of deleted
// accounts are rejected.
func UserMiddleware(tokens *Tokens, store sessions.Store, accounts Accounts) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		serve := func(w http.ResponseWriter, r *http.Request, userID uint) {
			active, err := accounts.Active(r.Context(), userID)
			if err != nil {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if !active {
				http.Error(w, "Not Authorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if header := r.Header.Get("Authorization"); header != "" {
				scheme, token, _ := strings.Cut(header, " ")
				if !strings.EqualFold(scheme, "token") && !strings.EqualFold(scheme, "bearer") {
					http.Error(w, "Not Authorized", http.StatusUnauthorized)
					return
				}
				userID, err := tokens.Parse(strings.TrimSpace(token))
				if err != nil {
					http.Error(w, "Not Authorized", http.StatusUnauthorized)
					return
				}
				serve(w, r, userID)
				return
			}

			if store != nil {
				session, err := store.Get(r, SessionName)
				if err == nil {
					if userID, ok := session.Values["user_id"].(uint); ok && userID != 0 {
						serve(w, r, userID)
						return
					}
				}
			}
			http.Error(w, "Not Authorized", http.StatusUnauthorized)
		})
	}
}
