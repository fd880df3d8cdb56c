package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAdmin    SenderType = "admin"
	SenderSystem   SenderType = "system"
)

// Valid reports whether the sender type is one of the three known values.
func (s SenderType) Valid() bool {
	switch s {
	case SenderCustomer, SenderAdmin, SenderSystem:
		return true
	}
	return false
}

// Metadata is an opaque structured attachment on a message (e.g. referenced
// product title/price). The relay passes it through unchanged.
type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return errors.New("metadata: unsupported column type")
}

// Message is immutable once created, except for the soft-delete marker.
// created_at is the sole ordering key within a conversation.
type Message struct {
	ID         string     `gorm:"type:text;primaryKey" json:"id"`
	OrderID    *string    `gorm:"type:text;index" json:"order_id,omitempty"`
	UserID     string     `gorm:"type:text;not null;index" json:"user_id"`
	SenderType SenderType `gorm:"type:varchar(20);not null" json:"sender_type"`
	Content    string     `gorm:"type:text;not null" json:"content"`
	Metadata   Metadata   `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	// Soft delete marker. Soft-deleted rows stay in storage but are excluded
	// from all listings and aggregation.
	DeletedAt *time.Time `gorm:"index" json:"deleted_at,omitempty"`
}

// Deleted reports whether the message has been soft-deleted.
func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}

// MessageDraft is the caller-supplied part of a message, before the store
// assigns identity and timestamps. ClientID is an optional client-provisional
// identifier; the relay echoes it back on acks and broadcasts so the sender
// can correlate the confirmed message with its optimistic copy.
type MessageDraft struct {
	OrderID    *string    `json:"order_id,omitempty"`
	UserID     string     `json:"user_id"`
	SenderType SenderType `json:"sender_type"`
	Content    string     `json:"content"`
	Metadata   Metadata   `json:"metadata,omitempty"`
	ClientID   string     `json:"client_id,omitempty"`
}
