package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/babl-app/babl/internal/images"
	"github.com/babl-app/babl/internal/storage"
	"github.com/babl-app/babl/models"
)

var errTooLarge = &models.APIError{
	Status: http.StatusRequestEntityTooLarge,
	Code:   "file_too_large",
	Detail: "The uploaded file is too large.",
}

// ListProfileImages lists the caller's images in display order, or another
// user's with ?user=<id>.
func (h *Handler) ListProfileImages(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	if v := r.URL.Query().Get("user"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			h.writeError(w, r, errMalformed)
			return
		}
		userID = uint(id)
	}

	imgs, err := h.Images.Images(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, imgs)
}

func (h *Handler) UploadProfileImage(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)

	file, header, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, errTooLarge)
			return
		}
		h.writeError(w, r, &models.APIError{
			Status: http.StatusBadRequest,
			Code:   "required",
			Detail: "No image was submitted.",
		})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	up := images.Upload{Filename: header.Filename, Data: data}
	if v := r.FormValue("position"); v != "" {
		pos, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, r, models.ErrInvalidPosition)
			return
		}
		up.Position = &pos
	}

	img, err := h.Images.Upload(r.Context(), userID, up)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, img)
}

func (h *Handler) GetProfileImage(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	img, err := h.Images.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

func (h *Handler) DeleteProfileImage(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Images.Delete(r.Context(), currentUser(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetImageOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Images.Order(r.Context(), currentUser(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type moveRequest struct {
	Position *int `json:"position" validate:"required"`
}

func (h *Handler) MoveProfileImage(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req moveRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	order, err := h.Images.Move(r.Context(), currentUser(r), id, *req.Position)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// AddToImageOrder puts one of the caller's images back at the end of their
// order.
func (h *Handler) AddToImageOrder(w http.ResponseWriter, r *http.Request) {
	h.changeOrder(w, r, h.Images.Add)
}

// DropFromImageOrder hides an image from the caller's order without deleting
// it.
func (h *Handler) DropFromImageOrder(w http.ResponseWriter, r *http.Request) {
	h.changeOrder(w, r, h.Images.Drop)
}

func (h *Handler) changeOrder(w http.ResponseWriter, r *http.Request, change func(ctx context.Context, userID, imageID uint) (*models.ProfileImageOrder, error)) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	order, err := change(r.Context(), currentUser(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ServeMedia streams a stored file.
func (h *Handler) ServeMedia(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	rc, err := h.Store.Open(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.Logger.Warn("failed to open media", zap.String("key", key), zap.Error(err))
		http.NotFound(w, r)
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if _, err := io.Copy(w, rc); err != nil {
		h.Logger.Warn("failed to stream media", zap.String("key", key), zap.Error(err))
	}
}
