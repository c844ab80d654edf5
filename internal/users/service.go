package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/babl-app/babl/internal/auth"
	"github.com/babl-app/babl/internal/events"
	"github.com/babl-app/babl/models"
)

var (
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	ErrUserExists         = errors.New("users: username or email already taken")
)

// ImageRemover deletes every profile image of a user.
type ImageRemover interface {
	DeleteAll(ctx context.Context, userID uint) error
}

type Service struct {
	db     *gorm.DB
	images ImageRemover
	events events.Publisher
	logger *zap.Logger
}

func NewService(db *gorm.DB, images ImageRemover, pub events.Publisher, logger *zap.Logger) *Service {
	return &Service{db: db, images: images, events: pub, logger: logger}
}

type Registration struct {
	Username string
	Email    string
	Name     string
	Bio      string
	Password string
}

// Register creates a user. The user's image order is created by the insert
// hook.
func (s *Service) Register(ctx context.Context, reg Registration) (*models.User, error) {
	db := s.db.WithContext(ctx)
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.ToLower(strings.TrimSpace(reg.Email))

	var n int64
	if err := db.Model(&models.User{}).
		Where("username = ? OR email = ?", reg.Username, reg.Email).
		Count(&n).Error; err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, ErrUserExists
	}

	hash, err := auth.HashPassword(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{
		Username:     reg.Username,
		Email:        reg.Email,
		Name:         reg.Name,
		Bio:          reg.Bio,
		PasswordHash: hash,
	}
	if err := db.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	s.logger.Info("user registered", zap.Uint("user_id", user.ID), zap.String("username", user.Username))
	s.publish(ctx, events.New(events.UserCreated, user.ID, user.ID, nil))
	return user, nil
}

func (s *Service) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if len(user.PasswordHash) == 0 || !auth.CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// FindOrCreateByEmail returns the user with email, creating one for a first
// OAuth login.
func (s *Service) FindOrCreateByEmail(ctx context.Context, email, name string) (*models.User, error) {
	db := s.db.WithContext(ctx)
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	err := db.Where("email = ?", email).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = models.User{
		Username: email,
		Email:    email,
		Name:     name,
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create oauth user: %w", err)
	}
	s.publish(ctx, events.New(events.UserCreated, user.ID, user.ID, nil))
	return &user, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Preload("Languages").First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Active reports whether id names a user that has not been deleted.
func (s *Service) Active(ctx context.Context, id uint) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check user %d: %w", id, err)
	}
	return n > 0, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	users := []models.User{}
	err := s.db.WithContext(ctx).
		Preload("Languages").
		Order("id").
		Limit(limit).
		Offset(offset).
		Find(&users).Error
	return users, err
}

type Update struct {
	Name        *string
	Bio         *string
	Email       *string
	Password    *string
	LanguageIDs []uint
}

func (s *Service) Update(ctx context.Context, id uint, up Update) (*models.User, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, id).Error; err != nil {
			return err
		}

		changes := map[string]any{}
		if up.Name != nil {
			changes["name"] = *up.Name
		}
		if up.Bio != nil {
			changes["bio"] = *up.Bio
		}
		if up.Email != nil {
			changes["email"] = strings.ToLower(strings.TrimSpace(*up.Email))
		}
		if up.Password != nil {
			hash, err := auth.HashPassword(*up.Password)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			changes["password_hash"] = hash
		}
		if len(changes) > 0 {
			if err := tx.Model(&user).Updates(changes).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrUserExists
				}
				return err
			}
		}

		if up.LanguageIDs != nil {
			var langs []models.Language
			if len(up.LanguageIDs) > 0 {
				if err := tx.Find(&langs, up.LanguageIDs).Error; err != nil {
					return err
				}
			}
			if err := tx.Model(&user).Association("Languages").Replace(langs); err != nil {
				return fmt.Errorf("replace languages: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes the user's images and files, then the user. The delete
// hook removes the image order.
func (s *Service) Delete(ctx context.Context, id uint) error {
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.images.DeleteAll(ctx, id); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Select("Languages").Delete(user).Error; err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}

	s.logger.Info("user deleted", zap.Uint("user_id", id))
	s.publish(ctx, events.New(events.UserDeleted, id, id, nil))
	return nil
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish event", zap.String("type", ev.Type), zap.Error(err))
	}
}
