package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mercura/order-chat/internal/errs"
	"github.com/mercura/order-chat/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SortOrder selects created_at ordering for list queries.
type SortOrder string

const (
	OrderAsc  SortOrder = "ASC"
	OrderDesc SortOrder = "DESC"
)

// Filter constrains a list query. Zero-value fields are ignored.
type Filter struct {
	OrderID string
	UserID  string

	// Before restricts results to messages created strictly before the given
	// time (for paging into history).
	Before time.Time
}

// MessageRepository is the single writer of truth for messages.
type MessageRepository struct {
	db    *gorm.DB
	limit int
}

// NewMessageRepository wraps db. limit caps every list query; queries never
// fetch unbounded result sets.
func NewMessageRepository(db *gorm.DB, limit int) *MessageRepository {
	if limit <= 0 {
		limit = 1000
	}
	return &MessageRepository{db: db, limit: limit}
}

// Append validates the draft, assigns identity and timestamps, and writes the
// message. The write is durable and visible to subsequent reads.
func (r *MessageRepository) Append(ctx context.Context, draft models.MessageDraft) (*models.Message, error) {
	if err := ValidateDraft(draft); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	msg := &models.Message{
		ID:         uuid.New().String(),
		OrderID:    draft.OrderID,
		UserID:     draft.UserID,
		SenderType: draft.SenderType,
		Content:    draft.Content,
		Metadata:   draft.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, errs.Persistence("append", err)
	}
	return msg, nil
}

// Insert writes an already-identified message (journal replay path). It is
// idempotent: a duplicate primary key is not an error.
func (r *MessageRepository) Insert(ctx context.Context, msg *models.Message) error {
	err := r.db.WithContext(ctx).Create(msg).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "duplicate key") {
		return nil
	}
	return errs.Persistence("insert", err)
}

// List returns non-deleted messages matching the filter, ordered by
// created_at. Results are capped at the repository limit.
func (r *MessageRepository) List(ctx context.Context, filter Filter, order SortOrder) ([]models.Message, error) {
	q := r.db.WithContext(ctx).Where("deleted_at IS NULL")

	if filter.OrderID != "" {
		q = q.Where("order_id = ?", filter.OrderID)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if !filter.Before.IsZero() {
		q = q.Where("created_at < ?", filter.Before)
	}

	dir := "created_at ASC, id ASC"
	if order == OrderDesc {
		dir = "created_at DESC, id DESC"
	}

	// Non-nil so an empty result marshals as [] at the HTTP boundary.
	messages := make([]models.Message, 0)
	err := q.Order(dir).Limit(r.limit).Find(&messages).Error
	if err != nil {
		return nil, errs.Persistence("list", err)
	}
	return messages, nil
}

// GetByID retrieves a message by its authoritative id, including soft-deleted
// rows.
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("message", id)
		}
		return nil, errs.Persistence("get", err)
	}
	return &msg, nil
}

// Exists reports whether a row with the given id is present (deleted or not).
func (r *MessageRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, errs.Persistence("exists", err)
	}
	return count > 0, nil
}

// SoftDelete marks a message deleted. The row stays in storage.
func (r *MessageRepository) SoftDelete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]interface{}{
			"deleted_at": &now,
			"updated_at": now,
		})
	if res.Error != nil {
		return errs.Persistence("soft delete", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.NotFound("message", id)
	}
	return nil
}

// LatestForUser returns the most recent non-deleted message for a user, or
// nil when none remain.
func (r *MessageRepository) LatestForUser(ctx context.Context, userID string) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND deleted_at IS NULL", userID).
		Order("created_at DESC, id DESC").
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errs.Persistence("latest", err)
	}
	return &msg, nil
}

// ValidateDraft enforces the append contract: user_id and content non-empty,
// sender_type one of the enumerated values.
func ValidateDraft(draft models.MessageDraft) error {
	if strings.TrimSpace(draft.UserID) == "" {
		return errs.Validation("user_id", "must not be empty")
	}
	if strings.TrimSpace(draft.Content) == "" {
		return errs.Validation("content", "must not be empty")
	}
	if !draft.SenderType.Valid() {
		return errs.Validation("sender_type", "must be customer, admin or system")
	}
	return nil
}
