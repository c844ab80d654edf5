package auth

import (
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"

	"github.com/babl-app/babl/internal/config"
)

// NewSessionStore builds the cookie store shared by gothic and the user
// session.
func NewSessionStore(cfg config.AuthConfig) *sessions.CookieStore {
	secret := cfg.SessionSecret
	if secret == "" {
		secret = cfg.JWTSecret
	}
	store := sessions.NewCookieStore([]byte(secret))
	store.MaxAge(86400 * 30)
	store.Options.Path = "/"
	store.Options.HttpOnly = true
	store.Options.Secure = cfg.SecureCookie
	return store
}

// SetupProviders registers the OAuth providers that have credentials.
// It reports whether any provider is enabled.
func SetupProviders(cfg config.AuthConfig, store sessions.Store) bool {
	gothic.Store = store
	if cfg.GoogleKey == "" || cfg.GoogleSecret == "" {
		return false
	}
	goth.UseProviders(google.New(cfg.GoogleKey, cfg.GoogleSecret, cfg.CallbackURL, "email", "profile"))
	return true
}

// SaveSessionUser records userID in the session cookie.
func SaveSessionUser(w http.ResponseWriter, r *http.Request, store sessions.Store, userID uint) error {
	session, err := store.Get(r, SessionName)
	if err != nil && session == nil {
		return err
	}
	session.Values["user_id"] = userID
	return session.Save(r, w)
}

// ClearSessionUser logs the session user out.
func ClearSessionUser(w http.ResponseWriter, r *http.Request, store sessions.Store) error {
	session, err := store.Get(r, SessionName)
	if err != nil && session == nil {
		return err
	}
	delete(session.Values, "user_id")
	session.Options.MaxAge = -1
	return session.Save(r, w)
}
