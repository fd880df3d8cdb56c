// Package index maintains the conversation list: one summary per distinct
// counterpart, refreshed incrementally on every append instead of rescanning
// the message log.
package index

import (
	"context"
	"sort"
	"sync"

	"github.com/mercura/order-chat/internal/models"
	"github.com/mercura/order-chat/internal/repository"
)

// ConversationIndex holds one summary per user_id, most recently active
// first. It is process-local derived state; the store stays the source of
// truth and a warm Rebuild at startup reseeds it.
//
// Unread rule: the viewer of this index is the admin console. unread_count
// increments on every update whose sender is not the admin, and resets to
// zero on MarkRead (invoked when the admin fetches that user's history).
type ConversationIndex struct {
	mu      sync.RWMutex
	entries map[string]*models.ConversationSummary
	// active orders user ids most-recently-updated first.
	active []string
}

func New() *ConversationIndex {
	return &ConversationIndex{
		entries: make(map[string]*models.ConversationSummary),
	}
}

// Update inserts or refreshes the summary for the message's user and moves it
// to the most-recent position. Soft-deleted messages are ignored.
func (ix *ConversationIndex) Update(msg *models.Message) {
	if msg == nil || msg.UserID == "" || msg.Deleted() {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	entry, ok := ix.entries[msg.UserID]
	if !ok {
		entry = &models.ConversationSummary{UserID: msg.UserID}
		ix.entries[msg.UserID] = entry
	}

	// created_at is the ordering key; never let a late-arriving older message
	// displace a newer last_message.
	if entry.LastMessage == nil || !msg.CreatedAt.Before(entry.LastMessage.CreatedAt) {
		entry.LastMessage = msg
	}
	if msg.SenderType != models.SenderAdmin {
		entry.UnreadCount++
	}

	ix.moveToFront(msg.UserID)
}

// MarkRead clears the unread counter for a conversation.
func (ix *ConversationIndex) MarkRead(userID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if entry, ok := ix.entries[userID]; ok {
		entry.UnreadCount = 0
	}
}

// Refresh replaces a conversation's last message after a soft delete. A nil
// last message removes the conversation entirely.
func (ix *ConversationIndex) Refresh(userID string, last *models.Message) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if last == nil {
		delete(ix.entries, userID)
		for i, id := range ix.active {
			if id == userID {
				ix.active = append(ix.active[:i], ix.active[i+1:]...)
				break
			}
		}
		return
	}

	entry, ok := ix.entries[userID]
	if !ok {
		entry = &models.ConversationSummary{UserID: userID}
		ix.entries[userID] = entry
		ix.active = append(ix.active, userID)
	}
	entry.LastMessage = last
	ix.resort()
}

// Summaries returns a snapshot of the conversation list, most recently active
// first.
func (ix *ConversationIndex) Summaries() []models.ConversationSummary {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]models.ConversationSummary, 0, len(ix.active))
	for _, id := range ix.active {
		if entry, ok := ix.entries[id]; ok {
			out = append(out, *entry)
		}
	}
	return out
}

// Rebuild reseeds the index from the store. Called once at process start so
// Summaries serves from memory afterwards. Existing unread counters are
// discarded.
func (ix *ConversationIndex) Rebuild(ctx context.Context, store *repository.MessageRepository) error {
	messages, err := store.List(ctx, repository.Filter{}, repository.OrderDesc)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.entries = make(map[string]*models.ConversationSummary)
	ix.active = ix.active[:0]

	// Descending scan: the first message seen per user is its latest.
	for i := range messages {
		msg := messages[i]
		if msg.UserID == "" {
			continue
		}
		if _, ok := ix.entries[msg.UserID]; ok {
			continue
		}
		ix.entries[msg.UserID] = &models.ConversationSummary{
			UserID:      msg.UserID,
			LastMessage: &msg,
		}
		ix.active = append(ix.active, msg.UserID)
	}

	ix.resort()
	return nil
}

// moveToFront assumes ix.mu is held.
func (ix *ConversationIndex) moveToFront(userID string) {
	for i, id := range ix.active {
		if id == userID {
			copy(ix.active[1:i+1], ix.active[:i])
			ix.active[0] = userID
			return
		}
	}
	ix.active = append([]string{userID}, ix.active...)
}

// resort orders by last message recency, ties broken by user_id. Assumes
// ix.mu is held.
func (ix *ConversationIndex) resort() {
	sort.SliceStable(ix.active, func(i, j int) bool {
		a, b := ix.entries[ix.active[i]], ix.entries[ix.active[j]]
		if a == nil || a.LastMessage == nil {
			return false
		}
		if b == nil || b.LastMessage == nil {
			return true
		}
		if !a.LastMessage.CreatedAt.Equal(b.LastMessage.CreatedAt) {
			return a.LastMessage.CreatedAt.After(b.LastMessage.CreatedAt)
		}
		return a.UserID < b.UserID
	})
}
