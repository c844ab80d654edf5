package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/babl-app/babl/internal/auth"
	"github.com/babl-app/babl/internal/events"
	"github.com/babl-app/babl/internal/images"
	"github.com/babl-app/babl/internal/storage"
	"github.com/babl-app/babl/internal/users"
	"github.com/babl-app/babl/models"
)

var (
	errMalformed = &models.APIError{
		Status: http.StatusBadRequest,
		Code:   "parse_error",
		Detail: "Malformed request.",
	}
	errForbidden = &models.APIError{
		Status: http.StatusForbidden,
		Code:   "permission_denied",
		Detail: "You do not have permission to perform this action.",
	}
	errNotFound = &models.APIError{
		Status: http.StatusNotFound,
		Code:   "not_found",
		Detail: "Not found.",
	}
	errUnique = &models.APIError{
		Status: http.StatusBadRequest,
		Code:   "unique",
		Detail: "An object with these values already exists.",
	}
	errUserExists = &models.APIError{
		Status: http.StatusBadRequest,
		Code:   "user_exists",
		Detail: "A user with that username or email already exists.",
	}
	errInvalidCredentials = &models.APIError{
		Status: http.StatusBadRequest,
		Code:   "invalid_credentials",
		Detail: "Unable to log in with provided credentials.",
	}
)

// Handler serves the REST API.
type Handler struct {
	DB             *gorm.DB
	Images         *images.Service
	Users          *users.Service
	Store          storage.Storage
	Tokens         *auth.Tokens
	Sessions       sessions.Store
	Events         events.Publisher
	Validate       *validator.Validate
	Logger         *zap.Logger
	MaxUploadBytes int64
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := h.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		h.Logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *models.APIError
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &apiErr):
		writeJSON(w, apiErr.Status, apiErr)
	case errors.As(err, &verrs):
		fields := make([]fieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fieldError{Field: fe.Field(), Rule: fe.Tag()})
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"code":   "invalid",
			"detail": "Invalid input.",
			"fields": fields,
		})
	case errors.Is(err, gorm.ErrRecordNotFound):
		writeJSON(w, http.StatusNotFound, errNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		writeJSON(w, http.StatusBadRequest, errUnique)
	case errors.Is(err, users.ErrUserExists):
		writeJSON(w, http.StatusBadRequest, errUserExists)
	case errors.Is(err, users.ErrInvalidCredentials):
		writeJSON(w, http.StatusBadRequest, errInvalidCredentials)
	default:
		h.Logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"code":   "error",
			"detail": "A server error occurred.",
		})
	}
}

// decode parses a JSON body into v and validates it.
func (h *Handler) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errMalformed
	}
	return h.Validate.Struct(v)
}

func currentUser(r *http.Request) uint {
	id, _ := auth.UserID(r.Context())
	return id
}

func idParam(r *http.Request, name string) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		return 0, errNotFound
	}
	return uint(id), nil
}

// page reads limit/offset query parameters, capping limit at 100.
func page(r *http.Request) (int, int) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	limit = min(limit, 100)
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
