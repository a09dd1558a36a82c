package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
	groupReadPageSize   = 200
)

// forUpdate row-locks selected rows on Postgres. SQLite serializes writers and ignores it.
var forUpdate = clause.Locking{Strength: "UPDATE"}

// MessageFilter narrows a message search to what a viewer may see.
type MessageFilter struct {
	ViewerID       string
	ViewerGroupIDs []string
	IDs            []string
	Text           string
	SenderID       string
	Type           string
	PeerID         string
	GroupID        string
	From           *time.Time
	To             *time.Time
	Limit          int
}

// MessageRepository persists messages and their delivery, thread and reaction state.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	CreateLinked(ctx context.Context, message *models.Message, rootID, groupID string) error
	FindByID(ctx context.Context, id string) (models.Message, error)
	Update(ctx context.Context, message *models.Message) error
	ListThread(ctx context.Context, rootID string) ([]models.Message, error)
	ListConversation(ctx context.Context, userID, peerID string, before time.Time, limit int) ([]models.Message, error)
	ListGroup(ctx context.Context, groupID string, before time.Time, limit int) ([]models.Message, error)
	Search(ctx context.Context, filter MessageFilter) ([]models.Message, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error)
	MarkConversationRead(ctx context.Context, senderID, readerID string, at time.Time) ([]string, error)
	MarkGroupRead(ctx context.Context, groupID, readerID string, at time.Time, limit int) ([]string, error)
	UpdateReactions(ctx context.Context, id string, reactions []models.ReactionGroup) error
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) FindByID(ctx context.Context, id string) (models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).First(&message, "id = ?", id).Error; err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func (r *messageRepository) Update(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Save(message).Error
}

// CreateLinked persists a message together with its thread link and group activity.
// Empty rootID or groupID skips that step. Nothing is written unless every step succeeds.
func (r *messageRepository) CreateLinked(ctx context.Context, message *models.Message, rootID, groupID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		if rootID != "" {
			if err := addThreadReply(tx, rootID, message.ID); err != nil {
				return err
			}
		}
		if groupID != "" {
			if err := recordGroupMessage(tx, groupID, message.ID, message.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// addThreadReply adds replyID to the root's reply set. Replaying the same reply is a no-op.
// The root row is locked so concurrent replies cannot overwrite each other.
func addThreadReply(tx *gorm.DB, rootID, replyID string) error {
	var root models.Message
	if err := tx.Clauses(forUpdate).Select("id", "thread_replies").First(&root, "id = ?", rootID).Error; err != nil {
		return err
	}

	for _, existing := range root.ThreadReplies {
		if existing == replyID {
			return nil
		}
	}

	replies := append(datatypes.JSONSlice[string]{}, root.ThreadReplies...)
	replies = append(replies, replyID)
	return tx.Model(&models.Message{}).Where("id = ?", rootID).Update("thread_replies", replies).Error
}

func (r *messageRepository) ListThread(ctx context.Context, rootID string) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("id = ? OR thread_id = ?", rootID, rootID).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) ListConversation(ctx context.Context, userID, peerID string, before time.Time, limit int) ([]models.Message, error) {
	query := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userID, peerID, peerID, userID)
	return r.listPage(query, before, limit)
}

func (r *messageRepository) ListGroup(ctx context.Context, groupID string, before time.Time, limit int) ([]models.Message, error) {
	return r.listPage(r.db.WithContext(ctx).Where("group_id = ?", groupID), before, limit)
}

func (r *messageRepository) listPage(query *gorm.DB, before time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}

	var messages []models.Message
	if err := query.Order("created_at DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}

	// Reverse to chronological order ascending for clients.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *messageRepository) Search(ctx context.Context, filter MessageFilter) ([]models.Message, error) {
	limit := filter.Limit
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}

	query := r.db.WithContext(ctx).Model(&models.Message{}).Where("is_deleted = ?", false)

	visibility := r.db.Where("sender_id = ?", filter.ViewerID).Or("receiver_id = ?", filter.ViewerID)
	if len(filter.ViewerGroupIDs) > 0 {
		visibility = visibility.Or("group_id IN ?", filter.ViewerGroupIDs)
	}
	query = query.Where(visibility)

	if len(filter.IDs) > 0 {
		query = query.Where("id IN ?", filter.IDs)
	}
	if text := strings.TrimSpace(filter.Text); text != "" && len(filter.IDs) == 0 {
		query = query.Where("LOWER(content) LIKE ?", "%"+strings.ToLower(text)+"%")
	}
	if filter.SenderID != "" {
		query = query.Where("sender_id = ?", filter.SenderID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.PeerID != "" {
		query = query.Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			filter.ViewerID, filter.PeerID, filter.PeerID, filter.ViewerID)
	}
	if filter.GroupID != "" {
		query = query.Where("group_id = ?", filter.GroupID)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", *filter.To)
	}

	var messages []models.Message
	if err := query.Order("created_at DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkDelivered advances a message from sent to delivered. It reports false when the
// message already moved past sent.
func (r *messageRepository) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND status = ?", id, models.MessageStatusSent).
		Updates(map[string]interface{}{
			"status":     models.MessageStatusDelivered,
			"updated_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkConversationRead marks every message from senderID to readerID that the reader has
// not read yet and returns the affected ids.
func (r *messageRepository) MarkConversationRead(ctx context.Context, senderID, readerID string, at time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending []models.Message
		err := tx.Clauses(forUpdate).
			Select("id", "read_by").
			Where("sender_id = ? AND receiver_id = ? AND status <> ?", senderID, readerID, models.MessageStatusRead).
			Order("created_at ASC").
			Find(&pending).Error
		if err != nil {
			return err
		}

		marked, err := appendReadReceipts(tx, pending, readerID, at, true)
		ids = marked
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// MarkGroupRead adds the reader's receipt to the most recent limit group messages that lack it.
// A limit of zero or less marks every such message.
func (r *messageRepository) MarkGroupRead(ctx context.Context, groupID, readerID string, at time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pending, err := unreadGroupMessages(tx, groupID, readerID, limit)
		if err != nil {
			return err
		}

		marked, err := appendReadReceipts(tx, pending, readerID, at, false)
		ids = marked
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// unreadGroupMessages pages backwards through the group until limit messages without the
// reader's receipt are found. The result is oldest first.
func unreadGroupMessages(tx *gorm.DB, groupID, readerID string, limit int) ([]models.Message, error) {
	var pending []models.Message
	seen := make(map[string]struct{})
	offset := 0

	for {
		var page []models.Message
		err := tx.Clauses(forUpdate).
			Select("id", "read_by", "created_at").
			Where("group_id = ? AND sender_id <> ?", groupID, readerID).
			Order("created_at DESC, id DESC").
			Offset(offset).
			Limit(groupReadPageSize).
			Find(&page).Error
		if err != nil {
			return nil, err
		}

		for _, message := range page {
			if _, dup := seen[message.ID]; dup || message.HasReader(readerID) {
				continue
			}
			seen[message.ID] = struct{}{}
			pending = append(pending, message)
			if limit > 0 && len(pending) == limit {
				break
			}
		}

		if len(page) < groupReadPageSize || (limit > 0 && len(pending) == limit) {
			break
		}
		offset += len(page)
	}

	for i, j := 0, len(pending)-1; i < j; i, j = i+1, j-1 {
		pending[i], pending[j] = pending[j], pending[i]
	}
	return pending, nil
}

// appendReadReceipts writes one receipt per message. With onlyUnread the update skips rows a
// concurrent reader already marked, and those rows are left out of the result.
func appendReadReceipts(tx *gorm.DB, messages []models.Message, readerID string, at time.Time, onlyUnread bool) ([]string, error) {
	ids := make([]string, 0, len(messages))
	for _, message := range messages {
		if message.HasReader(readerID) {
			continue
		}

		readBy := append(datatypes.JSONSlice[models.ReadReceipt]{}, message.ReadBy...)
		readBy = append(readBy, models.ReadReceipt{ReaderID: readerID, ReadAt: at})

		query := tx.Model(&models.Message{}).Where("id = ?", message.ID)
		if onlyUnread {
			query = query.Where("status <> ?", models.MessageStatusRead)
		}
		result := query.Updates(map[string]interface{}{
			"status":     models.MessageStatusRead,
			"read_by":    readBy,
			"updated_at": at,
		})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			continue
		}
		ids = append(ids, message.ID)
	}
	return ids, nil
}

func (r *messageRepository) UpdateReactions(ctx context.Context, id string, reactions []models.ReactionGroup) error {
	return r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Update("reactions", datatypes.JSONSlice[models.ReactionGroup](reactions)).Error
}
