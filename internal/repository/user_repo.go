package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

// UserRepository reads the user read model and records presence.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]models.User, error)
	SetPresence(ctx context.Context, userID string, online bool, seenAt time.Time) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository constructs a user repository backed by GORM.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (r *userRepository) FindByIDs(ctx context.Context, ids []string) (map[string]models.User, error) {
	result := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var users []models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, user := range users {
		result[user.ID] = user
	}
	return result, nil
}

// SetPresence upserts the row so users unknown to the read model still get a presence record.
func (r *userRepository) SetPresence(ctx context.Context, userID string, online bool, seenAt time.Time) error {
	seen := seenAt
	user := models.User{
		ID:        userID,
		Online:    online,
		LastSeen:  &seen,
		CreatedAt: seenAt,
		UpdatedAt: seenAt,
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"online", "last_seen", "updated_at"}),
	}).Create(&user).Error
}
