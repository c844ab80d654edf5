package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID            uint           `gorm:"primarykey" json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
	Username      string         `gorm:"size:150;not null;uniqueIndex" json:"username"`
	Name          string         `gorm:"size:255;not null" json:"name"`
	Email         string         `gorm:"size:255;not null;unique" json:"email"`
	Bio           string         `gorm:"size:500" json:"bio"`
	PasswordHash  []byte         `json:"-"`
	Languages     []Language     `gorm:"many2many:user_languages;" json:"languages"`
	ProfileImages []ProfileImage `json:"profile_images,omitempty"`
}

// AfterCreate gives every new user an empty image order.
func (u *User) AfterCreate(tx *gorm.DB) error {
	_, err := GetOrCreateOrder(newSession(tx), u.ID)
	return err
}

// AfterDelete removes the user's image order.
func (u *User) AfterDelete(tx *gorm.DB) error {
	if u.ID == 0 {
		return nil
	}
	return newSession(tx).Where("user_id = ?", u.ID).Delete(&ProfileImageOrder{}).Error
}

type Language struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Name      string    `gorm:"size:100;not null;uniqueIndex" json:"name"`
	Code      string    `gorm:"size:8;not null;uniqueIndex" json:"code"`
}

type Message struct {
	ID          uint       `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SenderID    uint       `gorm:"not null;index" json:"sender_id"`
	Sender      *User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	RecipientID uint       `gorm:"not null;index" json:"recipient_id"`
	Recipient   *User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Body        string     `gorm:"type:text;not null" json:"body"`
	ReadAt      *time.Time `json:"read_at"`
}

// Location is the last known position of a user. There is at most one per user.
type Location struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	UserID    uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	User      *User     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Latitude  float64   `gorm:"not null" json:"latitude"`
	Longitude float64   `gorm:"not null" json:"longitude"`
	City      string    `gorm:"size:255" json:"city"`
}

// All lists every model in migration order.
func All() []any {
	return []any{
		&Language{},
		&User{},
		&ProfileImageOrder{},
		&ProfileImage{},
		&Message{},
		&Location{},
	}
}

func newSession(tx *gorm.DB) *gorm.DB {
	return tx.Session(&gorm.Session{NewDB: true})
}
