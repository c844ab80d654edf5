package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProfileImage is one compressed JPEG owned by a user.
type ProfileImage struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	UUID       string    `gorm:"type:uuid;uniqueIndex;not null" json:"uuid"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	UserID     uint      `gorm:"not null;index" json:"user_id"`
	User       *User     `json:"user,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Position   *int      `json:"position,omitempty"`
	Filename   string    `gorm:"size:255" json:"filename"`
	StorageKey string    `gorm:"size:512;not null" json:"-"`
	MimeType   string    `gorm:"size:64" json:"mime_type"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Size       int64     `json:"size"`
	URL        string    `gorm:"-" json:"url"`
}

// StorageKeyFor returns where a user's image file lives in storage.
func StorageKeyFor(userID uint, filename string) string {
	return fmt.Sprintf("profile_images/user_%d/%s", userID, filename)
}

func CountProfileImages(tx *gorm.DB, userID uint) (int64, error) {
	var n int64
	err := tx.Model(&ProfileImage{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

// BeforeCreate rejects the insert once the owner already has
// MaxProfileImages images.
func (p *ProfileImage) BeforeCreate(tx *gorm.DB) error {
	if p.UUID == "" {
		p.UUID = uuid.NewString()
	}
	n, err := CountProfileImages(newSession(tx), p.UserID)
	if err != nil {
		return err
	}
	if n >= MaxProfileImages {
		return ErrTooManyImages
	}
	return nil
}

// AfterCreate appends the new image to its owner's order.
func (p *ProfileImage) AfterCreate(tx *gorm.DB) error {
	db := newSession(tx)
	order, err := LockOrder(db, p.UserID)
	if err != nil {
		return err
	}
	if err := order.Add(p.ID); err != nil {
		return err
	}
	return order.Save(db)
}

// AfterDelete drops the image from its owner's order. The backing file is
// removed by the caller once the delete succeeds.
func (p *ProfileImage) AfterDelete(tx *gorm.DB) error {
	if p.ID == 0 {
		return nil
	}
	db := newSession(tx)
	var order ProfileImageOrder
	err := db.Where("user_id = ?", p.UserID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := order.Drop(p.ID); err != nil {
		if errors.Is(err, ErrImageNotAvailable) {
			return nil
		}
		return err
	}
	return order.Save(db)
}
