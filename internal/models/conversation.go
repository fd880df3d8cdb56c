package models

// ConversationSummary is derived state: one row per distinct counterpart,
// built from the message log and never stored.
type ConversationSummary struct {
	UserID      string   `json:"user_id"`
	LastMessage *Message `json:"last_message"`
	UnreadCount int      `json:"unread_count"`
}
