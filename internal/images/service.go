// Package images manages profile images: compression, storage and the
// per-user display order.
package images

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/babl-app/babl/internal/events"
	"github.com/babl-app/babl/internal/imageproc"
	"github.com/babl-app/babl/internal/storage"
	"github.com/babl-app/babl/models"
)

const contentType = "image/jpeg"

type Service struct {
	db         *gorm.DB
	store      storage.Storage
	compressor imageproc.Compressor
	events     events.Publisher
	logger     *zap.Logger
}

func NewService(db *gorm.DB, store storage.Storage, compressor imageproc.Compressor, pub events.Publisher, logger *zap.Logger) *Service {
	return &Service{
		db:         db,
		store:      store,
		compressor: compressor,
		events:     pub,
		logger:     logger,
	}
}

// Upload is a raw image received from a client.
type Upload struct {
	Filename string
	Data     []byte
	Position *int
}

// Upload compresses the image, stores it and records it for userID. The
// insert appends the image to the user's order.
func (s *Service) Upload(ctx context.Context, userID uint, up Upload) (*models.ProfileImage, error) {
	if up.Position != nil && (*up.Position < 0 || *up.Position >= models.MaxProfileImages) {
		return nil, models.ErrInvalidPosition
	}

	// fail fast before spending CPU on compression; the insert hook re-checks
	// under the order lock
	n, err := models.CountProfileImages(s.db.WithContext(ctx), userID)
	if err != nil {
		return nil, fmt.Errorf("count profile images: %w", err)
	}
	if n >= models.MaxProfileImages {
		return nil, models.ErrTooManyImages
	}

	out, err := s.compressor.Compress(up.Data)
	if err != nil {
		if errors.Is(err, imageproc.ErrDecode) {
			return nil, models.ErrInvalidImage
		}
		return nil, fmt.Errorf("compress image: %w", err)
	}

	id := uuid.NewString()
	img := &models.ProfileImage{
		UUID:       id,
		UserID:     userID,
		Position:   up.Position,
		Filename:   up.Filename,
		StorageKey: models.StorageKeyFor(userID, id+".jpg"),
		MimeType:   contentType,
		Width:      out.Width,
		Height:     out.Height,
		Size:       int64(len(out.Data)),
	}

	stored := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := models.LockOrder(tx, userID); err != nil {
			return err
		}
		if err := tx.Create(img).Error; err != nil {
			return err
		}
		if err := s.store.Put(ctx, img.StorageKey, bytes.NewReader(out.Data), contentType); err != nil {
			return fmt.Errorf("store image: %w", err)
		}
		stored = true
		return nil
	})
	if err != nil {
		if stored {
			s.removeFile(ctx, img.StorageKey)
		}
		return nil, err
	}

	img.URL = s.store.URL(img.StorageKey)
	s.logger.Info("profile image uploaded",
		zap.Uint("user_id", userID),
		zap.Uint("image_id", img.ID),
		zap.Int("width", img.Width),
		zap.Int("height", img.Height),
		zap.Int64("bytes", img.Size))
	s.publish(ctx, events.New(events.ProfileImageCreated, userID, img.ID, img))
	return img, nil
}

// Delete removes one of userID's images. The row delete drops the id from
// the order and the backing file is removed before the transaction commits.
func (s *Service) Delete(ctx context.Context, userID, imageID uint) error {
	var img models.ProfileImage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := models.LockOrder(tx, userID); err != nil {
			return err
		}
		if err := tx.Where("id = ? AND user_id = ?", imageID, userID).First(&img).Error; err != nil {
			return err
		}
		if err := tx.Delete(&img).Error; err != nil {
			return err
		}
		if err := s.store.Delete(ctx, img.StorageKey); err != nil {
			return fmt.Errorf("delete image file: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("profile image deleted", zap.Uint("user_id", userID), zap.Uint("image_id", imageID))
	s.publish(ctx, events.New(events.ProfileImageDeleted, userID, imageID, nil))
	return nil
}

// DeleteAll removes every image owned by userID.
func (s *Service) DeleteAll(ctx context.Context, userID uint) error {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.ProfileImage{}).Where("user_id = ?", userID).Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("list profile images: %w", err)
	}
	for _, id := range ids {
		if err := s.Delete(ctx, userID, id); err != nil {
			return fmt.Errorf("delete profile image %d: %w", id, err)
		}
	}
	return nil
}

// Get returns a single image. Any user may view any image.
func (s *Service) Get(ctx context.Context, imageID uint) (*models.ProfileImage, error) {
	var img models.ProfileImage
	if err := s.db.WithContext(ctx).First(&img, imageID).Error; err != nil {
		return nil, err
	}
	img.URL = s.store.URL(img.StorageKey)
	return &img, nil
}

// Order returns userID's image order. It never writes; a missing order
// reads as empty.
func (s *Service) Order(ctx context.Context, userID uint) (*models.ProfileImageOrder, error) {
	return models.FindOrder(s.db.WithContext(ctx), userID)
}

// Images returns the images named by userID's order, in that order.
func (s *Service) Images(ctx context.Context, userID uint) ([]models.ProfileImage, error) {
	db := s.db.WithContext(ctx)
	order, err := models.FindOrder(db, userID)
	if err != nil {
		return nil, err
	}
	images := []models.ProfileImage{}
	if len(order.Order) == 0 {
		return images, nil
	}
	if err := db.Where("user_id = ? AND id IN ?", userID, []uint(order.Order)).Find(&images).Error; err != nil {
		return nil, fmt.Errorf("load profile images: %w", err)
	}

	rank := make(map[uint]int, len(order.Order))
	for i, id := range order.Order {
		rank[id] = i
	}
	slices.SortFunc(images, func(a, b models.ProfileImage) int {
		return cmp.Compare(rank[a.ID], rank[b.ID])
	})
	for i := range images {
		images[i].URL = s.store.URL(images[i].StorageKey)
	}
	return images, nil
}

// Add appends an image of userID's to their order. Images are appended on
// upload, so this only succeeds for images previously missing from it.
func (s *Service) Add(ctx context.Context, userID, imageID uint) (*models.ProfileImageOrder, error) {
	return s.mutateOrder(ctx, userID, func(tx *gorm.DB, order *models.ProfileImageOrder) error {
		var n int64
		if err := tx.Model(&models.ProfileImage{}).Where("id = ? AND user_id = ?", imageID, userID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return models.ErrImageNotAvailable
		}
		return order.Add(imageID)
	})
}

// Move reinserts imageID at position in userID's order.
func (s *Service) Move(ctx context.Context, userID, imageID uint, position int) (*models.ProfileImageOrder, error) {
	order, err := s.mutateOrder(ctx, userID, func(_ *gorm.DB, order *models.ProfileImageOrder) error {
		return order.Move(position, imageID)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.New(events.ProfileImageMoved, userID, imageID, order.Order))
	return order, nil
}

// Drop removes imageID from userID's order without deleting the image.
func (s *Service) Drop(ctx context.Context, userID, imageID uint) (*models.ProfileImageOrder, error) {
	return s.mutateOrder(ctx, userID, func(_ *gorm.DB, order *models.ProfileImageOrder) error {
		return order.Drop(imageID)
	})
}

func (s *Service) mutateOrder(ctx context.Context, userID uint, fn func(tx *gorm.DB, order *models.ProfileImageOrder) error) (*models.ProfileImageOrder, error) {
	var order *models.ProfileImageOrder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = models.LockOrder(tx, userID)
		if err != nil {
			return err
		}
		if err := fn(tx, order); err != nil {
			return err
		}
		return order.Save(tx)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) removeFile(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to remove orphaned image file", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish event", zap.String("type", ev.Type), zap.Error(err))
	}
}
