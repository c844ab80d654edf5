package handlers

import (
	"net/http"

	"gorm.io/gorm/clause"

	"github.com/babl-app/babl/models"
)

type locationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	City      string   `json:"city" validate:"max=255"`
}

func (h *Handler) GetOwnLocation(w http.ResponseWriter, r *http.Request) {
	h.writeLocation(w, r, currentUser(r))
}

func (h *Handler) GetUserLocation(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "userID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeLocation(w, r, id)
}

func (h *Handler) writeLocation(w http.ResponseWriter, r *http.Request, userID uint) {
	var loc models.Location
	if err := h.DB.WithContext(r.Context()).Where("user_id = ?", userID).First(&loc).Error; err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// PutLocation creates or replaces the caller's location.
func (h *Handler) PutLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	userID := currentUser(r)
	loc := models.Location{
		UserID:    userID,
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		City:      req.City,
	}
	db := h.DB.WithContext(r.Context())
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"latitude", "longitude", "city", "updated_at"}),
	}).Create(&loc).Error
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// re-read: on conflict the inserted struct does not carry the stored row
	var saved models.Location
	if err := db.Where("user_id = ?", userID).First(&saved).Error; err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	res := h.DB.WithContext(r.Context()).Where("user_id = ?", currentUser(r)).Delete(&models.Location{})
	if res.Error != nil {
		h.writeError(w, r, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		h.writeError(w, r, errNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
