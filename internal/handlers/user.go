package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/markbates/goth/gothic"
	"go.uber.org/zap"

	"github.com/babl-app/babl/internal/auth"
	"github.com/babl-app/babl/internal/users"
)

type createUserRequest struct {
	Username string `json:"username" validate:"required,max=150"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Name     string `json:"name" validate:"required,max=255"`
	Bio      string `json:"bio" validate:"max=500"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type updateUserRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=255"`
	Email       *string `json:"email" validate:"omitempty,email,max=255"`
	Bio         *string `json:"bio" validate:"omitempty,max=500"`
	Password    *string `json:"password" validate:"omitempty,min=8,max=128"`
	LanguageIDs []uint  `json:"language_ids"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// CreateUser registers a new account. It does not require authentication.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.Users.Register(r.Context(), users.Registration{
		Username: req.Username,
		Email:    req.Email,
		Name:     req.Name,
		Bio:      req.Bio,
		Password: req.Password,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// Login exchanges a username and password for an API token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.Users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	token, err := h.Tokens.Issue(user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	list, err := h.Users.List(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.Users.Get(r.Context(), currentUser(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.Users.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if id != currentUser(r) {
		h.writeError(w, r, errForbidden)
		return
	}
	var req updateUserRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.Users.Update(r.Context(), id, users.Update{
		Name:        req.Name,
		Bio:         req.Bio,
		Email:       req.Email,
		Password:    req.Password,
		LanguageIDs: req.LanguageIDs,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if id != currentUser(r) {
		h.writeError(w, r, errForbidden)
		return
	}
	if err := h.Users.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.Sessions != nil {
		if err := auth.ClearSessionUser(w, r, h.Sessions); err != nil {
			h.Logger.Warn("failed to clear session", zap.Uint("user_id", id), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// gothic looks the provider up in the query string.
func withProvider(r *http.Request) *http.Request {
	q := r.URL.Query()
	q.Set("provider", chi.URLParam(r, "provider"))
	r.URL.RawQuery = q.Encode()
	return r
}

func (h *Handler) OAuthBegin(w http.ResponseWriter, r *http.Request) {
	r = withProvider(r)
	if gothUser, err := gothic.CompleteUserAuth(w, r); err == nil {
		fmt.Fprintf(w, "User already authenticated: %s\n", gothUser.Name)
	} else {
		gothic.BeginAuthHandler(w, r)
	}
}

// OAuthCallback finishes a provider login, creating the user on first
// login, and stores the user in the session.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	r = withProvider(r)
	gothUser, err := gothic.CompleteUserAuth(w, r)
	if err != nil {
		h.Logger.Warn("oauth login failed", zap.Error(err))
		http.Error(w, "Not Authorized", http.StatusUnauthorized)
		return
	}

	user, err := h.Users.FindOrCreateByEmail(r.Context(), gothUser.Email, gothUser.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := auth.SaveSessionUser(w, r, h.Sessions, user.ID); err != nil {
		h.Logger.Error("failed to save session", zap.Error(err))
		http.Error(w, "Failed to save session", http.StatusInternalServerError)
		return
	}
	token, err := h.Tokens.Issue(user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	r = withProvider(r)
	gothic.Logout(w, r)
	if h.Sessions == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := auth.ClearSessionUser(w, r, h.Sessions); err != nil {
		h.Logger.Warn("failed to clear session", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}
