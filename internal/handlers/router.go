package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/babl-app/babl/internal/auth"
	"github.com/babl-app/babl/internal/config"
	"github.com/babl-app/babl/internal/logging"
)

// NewRouter wires every endpoint. Everything except registration, login,
// OAuth, media and the health check needs an authenticated user and is
// rate limited per IP and endpoint.
func NewRouter(h *Handler, rl config.RateLimitConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	protected := chi.Chain(
		auth.UserMiddleware(h.Tokens, h.Sessions, h.Users),
		httprate.Limit(
			rl.Requests,
			rl.Window,
			httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
		),
	)

	r.Get("/healthz", h.Health)
	r.Post("/login", h.Login)
	r.Get("/media/*", h.ServeMedia)

	// User auth
	r.Get("/auth/{provider}", h.OAuthBegin)
	r.Post("/auth/{provider}", h.OAuthBegin)
	r.Get("/auth/{provider}/callback", h.OAuthCallback)
	r.Post("/logout/{provider}", h.Logout)

	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.CreateUser)
		r.Group(func(r chi.Router) {
			r.Use(protected...)
			r.Get("/", h.ListUsers)
			r.Get("/me", h.GetMe)
			r.Get("/{id}", h.GetUser)
			r.Patch("/{id}", h.UpdateUser)
			r.Delete("/{id}", h.DeleteUser)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(protected...)
		r.Route("/languages", func(r chi.Router) {
			r.Get("/", h.ListLanguages)
			r.Post("/", h.CreateLanguage)
			r.Get("/{id}", h.GetLanguage)
			r.Put("/{id}", h.UpdateLanguage)
			r.Patch("/{id}", h.UpdateLanguage)
			r.Delete("/{id}", h.DeleteLanguage)
		})
		r.Route("/profile-images", func(r chi.Router) {
			r.Get("/", h.ListProfileImages)
			r.Post("/", h.UploadProfileImage)
			r.Get("/order", h.GetImageOrder)
			r.Get("/{id}", h.GetProfileImage)
			r.Delete("/{id}", h.DeleteProfileImage)
			r.Post("/{id}/move", h.MoveProfileImage)
			r.Post("/{id}/add", h.AddToImageOrder)
			r.Post("/{id}/drop", h.DropFromImageOrder)
		})
		r.Route("/messages", func(r chi.Router) {
			r.Get("/", h.ListMessages)
			r.Post("/", h.CreateMessage)
			r.Get("/{id}", h.GetMessage)
			r.Post("/{id}/read", h.MarkMessageRead)
			r.Delete("/{id}", h.DeleteMessage)
		})
		r.Route("/locations", func(r chi.Router) {
			r.Get("/", h.GetOwnLocation)
			r.Put("/", h.PutLocation)
			r.Delete("/", h.DeleteLocation)
			r.Get("/{userID}", h.GetUserLocation)
		})
	})
	return r
}
