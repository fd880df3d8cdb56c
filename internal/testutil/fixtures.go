package testutil

import (
	"time"

	"github.com/mercura/order-chat/internal/models"

	"github.com/google/uuid"
)

// Draft builds a minimal valid customer draft.
func Draft(userID, content string) models.MessageDraft {
	return models.MessageDraft{
		UserID:     userID,
		SenderType: models.SenderCustomer,
		Content:    content,
	}
}

// AdminDraft builds a minimal valid admin draft.
func AdminDraft(userID, content string) models.MessageDraft {
	return models.MessageDraft{
		UserID:     userID,
		SenderType: models.SenderAdmin,
		Content:    content,
	}
}

// StoredMessage builds a persisted-shape message with server identity, for
// seeding the store or the index directly.
func StoredMessage(userID, content string, senderType models.SenderType, createdAt time.Time) *models.Message {
	return &models.Message{
		ID:         uuid.New().String(),
		UserID:     userID,
		SenderType: senderType,
		Content:    content,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

// OrderMessage is StoredMessage with an order reference attached.
func OrderMessage(orderID, userID, content string, createdAt time.Time) *models.Message {
	msg := StoredMessage(userID, content, models.SenderCustomer, createdAt)
	msg.OrderID = &orderID
	return msg
}
