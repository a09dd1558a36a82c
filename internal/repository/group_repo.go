package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

// ErrInviteCodeTaken reports an invite code already assigned to another group.
var ErrInviteCodeTaken = errors.New("invite code already in use")

// GroupRepository persists groups and their member lists.
type GroupRepository interface {
	Create(ctx context.Context, group *models.Group) error
	FindByID(ctx context.Context, id string) (models.Group, error)
	FindByInviteCode(ctx context.Context, code string) (models.Group, error)
	ListForUser(ctx context.Context, userID string) ([]models.Group, error)
	GroupIDsForUser(ctx context.Context, userID string) ([]string, error)
	Update(ctx context.Context, id string, fields map[string]interface{}) error
	Delete(ctx context.Context, id string) error
	AddMember(ctx context.Context, member *models.GroupMember) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	UpdateMemberRole(ctx context.Context, groupID, userID string, role models.GroupRole, permissions []string) error
	SetInviteCode(ctx context.Context, groupID, code string, expiresAt time.Time) error
}

type groupRepository struct {
	db *gorm.DB
}

// NewGroupRepository constructs a group repository backed by GORM.
func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &groupRepository{db: db}
}

func (r *groupRepository) Create(ctx context.Context, group *models.Group) error {
	return r.db.WithContext(ctx).Create(group).Error
}

func (r *groupRepository) FindByID(ctx context.Context, id string) (models.Group, error) {
	var group models.Group
	err := r.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at ASC, id ASC") }).
		First(&group, "id = ?", id).Error
	if err != nil {
		return models.Group{}, err
	}
	return group, nil
}

func (r *groupRepository) FindByInviteCode(ctx context.Context, code string) (models.Group, error) {
	var group models.Group
	err := r.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at ASC, id ASC") }).
		First(&group, "invite_code = ?", code).Error
	if err != nil {
		return models.Group{}, err
	}
	return group, nil
}

func (r *groupRepository) ListForUser(ctx context.Context, userID string) ([]models.Group, error) {
	ids, err := r.GroupIDsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Group{}, nil
	}

	var groups []models.Group
	err = r.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at ASC, id ASC") }).
		Where("id IN ?", ids).
		Order("last_activity DESC").
		Find(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *groupRepository) GroupIDsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.GroupMember{}).
		Where("user_id = ?", userID).
		Pluck("group_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *groupRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&models.Group{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *groupRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", id).Delete(&models.GroupMember{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.Group{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (r *groupRepository) AddMember(ctx context.Context, member *models.GroupMember) error {
	return r.db.WithContext(ctx).Create(member).Error
}

func (r *groupRepository) RemoveMember(ctx context.Context, groupID, userID string) error {
	result := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&models.GroupMember{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *groupRepository) UpdateMemberRole(ctx context.Context, groupID, userID string, role models.GroupRole, permissions []string) error {
	result := r.db.WithContext(ctx).
		Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Updates(map[string]interface{}{
			"role":        role,
			"permissions": datatypes.JSONSlice[string](permissions),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// recordGroupMessage bumps the group's counters in a single update statement.
func recordGroupMessage(db *gorm.DB, groupID, messageID string, at time.Time) error {
	result := db.Model(&models.Group{}).
		Where("id = ?", groupID).
		Updates(map[string]interface{}{
			"message_count":   gorm.Expr("message_count + ?", 1),
			"last_message_id": messageID,
			"last_activity":   at,
			"updated_at":      at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetInviteCode assigns a code to the group or returns ErrInviteCodeTaken.
func (r *groupRepository) SetInviteCode(ctx context.Context, groupID, code string, expiresAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		err := tx.Model(&models.Group{}).
			Where("invite_code = ? AND id <> ?", code, groupID).
			Count(&taken).Error
		if err != nil {
			return err
		}
		if taken > 0 {
			return ErrInviteCodeTaken
		}

		result := tx.Model(&models.Group{}).Where("id = ?", groupID).Updates(map[string]interface{}{
			"invite_code":       code,
			"invite_expires_at": expiresAt,
		})
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
				return ErrInviteCodeTaken
			}
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
