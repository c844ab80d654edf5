package handlers

import (
	"net/http"

	"gorm.io/gorm"

	"github.com/babl-app/babl/models"
)

type languageRequest struct {
	Name string `json:"name" validate:"required,max=100"`
	Code string `json:"code" validate:"required,min=2,max=8"`
}

func (h *Handler) ListLanguages(w http.ResponseWriter, r *http.Request) {
	var langs []models.Language
	if err := h.DB.WithContext(r.Context()).Order("name").Find(&langs).Error; err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, langs)
}

func (h *Handler) CreateLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	lang := models.Language{Name: req.Name, Code: req.Code}
	if err := h.DB.WithContext(r.Context()).Create(&lang).Error; err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lang)
}

func (h *Handler) GetLanguage(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var lang models.Language
	if err := h.DB.WithContext(r.Context()).First(&lang, id).Error; err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lang)
}

// UpdateLanguage serves both PUT and PATCH; either field may be replaced.
func (h *Handler) UpdateLanguage(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	db := h.DB.WithContext(r.Context())
	var lang models.Language
	if err := db.First(&lang, id).Error; err != nil {
		h.writeError(w, r, err)
		return
	}

	req := languageRequest{Name: lang.Name, Code: lang.Code}
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	lang.Name, lang.Code = req.Name, req.Code
	if err := db.Save(&lang).Error; err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lang)
}

func (h *Handler) DeleteLanguage(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	err = h.DB.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM user_languages WHERE language_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Language{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errNotFound
		}
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
