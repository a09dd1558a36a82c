package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

// ReactionRepository is the authoritative reaction ledger.
type ReactionRepository interface {
	Find(ctx context.Context, messageID, userID, emoji string) (models.Reaction, error)
	Create(ctx context.Context, reaction *models.Reaction) (bool, error)
	Delete(ctx context.Context, messageID, userID, emoji string) (bool, error)
	ListByMessage(ctx context.Context, messageID string) ([]models.Reaction, error)
}

type reactionRepository struct {
	db *gorm.DB
}

// NewReactionRepository constructs a reaction ledger backed by GORM.
func NewReactionRepository(db *gorm.DB) ReactionRepository {
	return &reactionRepository{db: db}
}

func (r *reactionRepository) Find(ctx context.Context, messageID, userID, emoji string) (models.Reaction, error) {
	var reaction models.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		First(&reaction).Error
	if err != nil {
		return models.Reaction{}, err
	}
	return reaction, nil
}

// Create inserts the ledger row. It reports false when the tuple already exists, which is
// how a losing concurrent insert surfaces.
func (r *reactionRepository) Create(ctx context.Context, reaction *models.Reaction) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(reaction)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *reactionRepository) Delete(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&models.Reaction{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *reactionRepository) ListByMessage(ctx context.Context, messageID string) ([]models.Reaction, error) {
	var reactions []models.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at ASC").
		Find(&reactions).Error
	if err != nil {
		return nil, err
	}
	return reactions, nil
}
