package models

import "net/http"

// APIError is a domain failure that maps onto an HTTP response.
type APIError struct {
	Status int    `json:"-"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Detail
}

var (
	ErrTooManyImages = &APIError{
		Status: http.StatusUnauthorized,
		Code:   "profile_pic_max_exceeded",
		Detail: "You may only have 6 profile pictures at a time.",
	}
	ErrDuplicateImage = &APIError{
		Status: http.StatusBadRequest,
		Code:   "duplicate_image",
		Detail: "You cannot submit the same image twice.",
	}
	ErrImageNotAvailable = &APIError{
		Status: http.StatusBadRequest,
		Code:   "image_not_available",
		Detail: "Image being referenced is not available.",
	}
	ErrInvalidPosition = &APIError{
		Status: http.StatusBadRequest,
		Code:   "invalid_position",
		Detail: "Position must be between 0 and 5.",
	}
	ErrInvalidImage = &APIError{
		Status: http.StatusBadRequest,
		Code:   "invalid_image",
		Detail: "Upload a valid image. The file you uploaded was either not an image or a corrupted image.",
	}
)
