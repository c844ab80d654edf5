package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// MaxProfileImages caps both the images a user may own and the length of
// their order.
const MaxProfileImages = 6

// ImageIDs is an ordered list of ProfileImage ids stored as a JSON array.
type ImageIDs []uint

func (ids ImageIDs) Value() (driver.Value, error) {
	if ids == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]uint(ids))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (ids *ImageIDs) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*ids = ImageIDs{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("models: cannot scan %T into ImageIDs", src)
	}
	out := ImageIDs{}
	if err := json.Unmarshal(b, (*[]uint)(&out)); err != nil {
		return fmt.Errorf("models: decode image ids: %w", err)
	}
	*ids = out
	return nil
}

func (ImageIDs) GormDataType() string {
	return "json"
}

func (ImageIDs) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "jsonb"
	}
	return "text"
}

type ProfileImageOrder struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
	UserID    uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	User      *User     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Order     ImageIDs  `gorm:"column:image_ids;not null" json:"order"`
}

func (o *ProfileImageOrder) Contains(id uint) bool {
	return slices.Contains(o.Order, id)
}

// Add appends id to the end of the order.
func (o *ProfileImageOrder) Add(id uint) error {
	if o.Contains(id) {
		return ErrDuplicateImage
	}
	if len(o.Order) >= MaxProfileImages {
		return ErrTooManyImages
	}
	o.Order = append(o.Order, id)
	return nil
}

// Move takes id out of the order and reinserts it at position. Negative
// positions count from the end and out of range positions are clamped.
func (o *ProfileImageOrder) Move(position int, id uint) error {
	i := slices.Index(o.Order, id)
	if i < 0 {
		return ErrImageNotAvailable
	}
	rest := slices.Delete(slices.Clone(o.Order), i, i+1)
	n := len(rest)
	if position < 0 {
		position = max(position+n, 0)
	}
	position = min(position, n)
	o.Order = slices.Insert(rest, position, id)
	return nil
}

func (o *ProfileImageOrder) Drop(id uint) error {
	i := slices.Index(o.Order, id)
	if i < 0 {
		return ErrImageNotAvailable
	}
	o.Order = slices.Delete(slices.Clone(o.Order), i, i+1)
	return nil
}

// Save persists the current order.
func (o *ProfileImageOrder) Save(tx *gorm.DB) error {
	return tx.Model(o).Update("image_ids", o.Order).Error
}

// GetOrCreateOrder loads the user's order, creating an empty one when
// missing.
func GetOrCreateOrder(tx *gorm.DB, userID uint) (*ProfileImageOrder, error) {
	var order ProfileImageOrder
	err := tx.Where(ProfileImageOrder{UserID: userID}).
		Attrs(ProfileImageOrder{Order: ImageIDs{}}).
		FirstOrCreate(&order).Error
	if err != nil {
		return nil, fmt.Errorf("load image order for user %d: %w", userID, err)
	}
	return &order, nil
}

// FindOrder loads the user's order without creating one. A user with no
// order row gets an empty, unsaved order.
func FindOrder(tx *gorm.DB, userID uint) (*ProfileImageOrder, error) {
	var order ProfileImageOrder
	err := tx.Where("user_id = ?", userID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ProfileImageOrder{UserID: userID, Order: ImageIDs{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load image order for user %d: %w", userID, err)
	}
	return &order, nil
}

// LockOrder is GetOrCreateOrder with the row locked for the rest of the
// transaction. Locking is a no-op on dialects without SELECT ... FOR UPDATE.
func LockOrder(tx *gorm.DB, userID uint) (*ProfileImageOrder, error) {
	return GetOrCreateOrder(tx.Clauses(clause.Locking{Strength: "UPDATE"}), userID)
}
