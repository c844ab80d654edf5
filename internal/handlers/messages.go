package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/babl-app/babl/internal/events"
	"github.com/babl-app/babl/models"
)

var errInvalidRecipient = &models.APIError{
	Status: http.StatusBadRequest,
	Code:   "invalid_recipient",
	Detail: "Messages must be sent to another existing user.",
}

type messageRequest struct {
	RecipientID uint   `json:"recipient_id" validate:"required"`
	Body        string `json:"body" validate:"required,max=5000"`
}

// ListMessages returns messages sent or received by the caller, newest
// first. ?with=<id> narrows the list to one conversation.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	limit, offset := page(r)

	q := h.DB.WithContext(r.Context()).
		Where("sender_id = ? OR recipient_id = ?", userID, userID)
	if v := r.URL.Query().Get("with"); v != "" {
		other, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			h.writeError(w, r, errMalformed)
			return
		}
		q = q.Where("sender_id = ? OR recipient_id = ?", other, other)
	}

	var msgs []models.Message
	if err := q.Order("created_at desc, id desc").Limit(limit).Offset(offset).Find(&msgs).Error; err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	var req messageRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.RecipientID == userID {
		h.writeError(w, r, errInvalidRecipient)
		return
	}

	db := h.DB.WithContext(r.Context())
	var count int64
	if err := db.Model(&models.User{}).Where("id = ?", req.RecipientID).Count(&count).Error; err != nil {
		h.writeError(w, r, err)
		return
	}
	if count == 0 {
		h.writeError(w, r, errInvalidRecipient)
		return
	}

	msg := models.Message{SenderID: userID, RecipientID: req.RecipientID, Body: req.Body}
	if err := db.Create(&msg).Error; err != nil {
		h.writeError(w, r, err)
		return
	}

	ev := events.New(events.MessageCreated, userID, msg.ID, map[string]any{"recipient_id": msg.RecipientID})
	if err := h.Events.Publish(r.Context(), ev); err != nil {
		h.Logger.Warn("failed to publish event", zap.String("type", ev.Type), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, msg)
}

// participantMessage loads a message the caller sent or received. Messages
// between other users read as not found.
func (h *Handler) participantMessage(r *http.Request) (*models.Message, error) {
	id, err := idParam(r, "id")
	if err != nil {
		return nil, err
	}
	userID := currentUser(r)
	var msg models.Message
	err = h.DB.WithContext(r.Context()).
		Where("sender_id = ? OR recipient_id = ?", userID, userID).
		First(&msg, id).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.participantMessage(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) MarkMessageRead(w http.ResponseWriter, r *http.Request) {
	msg, err := h.participantMessage(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if msg.RecipientID != currentUser(r) {
		h.writeError(w, r, errForbidden)
		return
	}
	if msg.ReadAt == nil {
		now := time.Now().UTC()
		if err := h.DB.WithContext(r.Context()).Model(msg).Update("read_at", now).Error; err != nil {
			h.writeError(w, r, err)
			return
		}
		msg.ReadAt = &now
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.participantMessage(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if msg.SenderID != currentUser(r) {
		h.writeError(w, r, errForbidden)
		return
	}
	if err := h.DB.WithContext(r.Context()).Delete(msg).Error; err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
