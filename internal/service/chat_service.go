package service

import (
	"context"
	"time"

	"github.com/mercura/order-chat/internal/errs"
	"github.com/mercura/order-chat/internal/hub"
	"github.com/mercura/order-chat/internal/index"
	"github.com/mercura/order-chat/internal/models"
	"github.com/mercura/order-chat/internal/repository"
	"github.com/mercura/order-chat/internal/wal"
	"github.com/mercura/order-chat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChatService is the read/write surface shared by the polling and push
// channels. Every write funnels through it: journal, then persist, then index
// update, then fan-out, so push clients only ever see persisted messages.
type ChatService struct {
	store *repository.MessageRepository
	index *index.ConversationIndex
	hub   *hub.Hub
	wal   *wal.WAL
}

func NewChatService(
	store *repository.MessageRepository,
	ix *index.ConversationIndex,
	h *hub.Hub,
	w *wal.WAL,
) *ChatService {
	return &ChatService{
		store: store,
		index: ix,
		hub:   h,
		wal:   w,
	}
}

// Write validates, persists and fans out one message. The hub fan-out makes
// a polling-channel write visible to push clients without the poller opening
// a duplex connection. The optional client-provisional id travels with the
// broadcast so the sender can reconcile its optimistic copy exactly.
func (s *ChatService) Write(ctx context.Context, draft models.MessageDraft) (*models.Message, error) {
	if err := repository.ValidateDraft(draft); err != nil {
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

	// Journal first: once the entry is synced the message survives a storage
	// outage and the replayer finishes the job.
	if err := s.wal.Write(wal.Entry{Message: *msg}); err != nil {
		return nil, errs.Persistence("journal", err)
	}

	if err := s.store.Insert(ctx, msg); err != nil {
		// Entry stays in the journal; replay retries it. The send is not
		// acknowledged, so nothing was broadcast that storage doesn't hold.
		logger.Log.Error("Write: persist failed, message left in journal",
			zap.String("message_id", msg.ID),
			zap.String("user_id", msg.UserID),
			zap.Error(err),
		)
		return nil, err
	}

	if err := s.wal.Cleanup([]string{msg.ID}); err != nil {
		logger.Log.Warn("Write: journal cleanup failed",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}

	s.index.Update(msg)
	s.hub.FanOut(s.roomsFor(msg), draft.ClientID, msg)

	return msg, nil
}

// Read lists messages for an order and/or user in created_at ascending
// order. With neither key it returns an empty slice, not an error, so a
// polling client stays simple before a context is established.
func (s *ChatService) Read(ctx context.Context, orderID, userID string) ([]models.Message, error) {
	if orderID == "" && userID == "" {
		return []models.Message{}, nil
	}

	return s.store.List(ctx, repository.Filter{
		OrderID: orderID,
		UserID:  userID,
	}, repository.OrderAsc)
}

// History is the admin-side read: it lists a user's conversation and clears
// its unread counter.
func (s *ChatService) History(ctx context.Context, userID string) ([]models.Message, error) {
	if userID == "" {
		return nil, errs.Validation("user_id", "must not be empty")
	}

	messages, err := s.store.List(ctx, repository.Filter{UserID: userID}, repository.OrderAsc)
	if err != nil {
		return nil, err
	}

	s.index.MarkRead(userID)
	return messages, nil
}

// ConversationList passes through to the maintained index.
func (s *ChatService) ConversationList() []models.ConversationSummary {
	return s.index.Summaries()
}

// Delete soft-deletes one message and refreshes the affected conversation's
// summary to the next most recent live message, removing the conversation
// when none remain.
func (s *ChatService) Delete(ctx context.Context, id string) error {
	msg, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.SoftDelete(ctx, id); err != nil {
		return err
	}

	last, err := s.store.LatestForUser(ctx, msg.UserID)
	if err != nil {
		return err
	}
	s.index.Refresh(msg.UserID, last)

	return nil
}

// roomsFor returns the fan-out targets: the counterpart's room always, plus
// the shared admin room for customer-originated messages.
func (s *ChatService) roomsFor(msg *models.Message) []string {
	rooms := []string{msg.UserID}
	if msg.SenderType == models.SenderCustomer {
		rooms = append(rooms, hub.AdminRoom)
	}
	return rooms
}

// StartReplay launches the journal replayer: every interval it retries
// pending entries against the store with their original identity, then
// cleans up whatever made it in. Returns a stop function.
func (s *ChatService) StartReplay(ctx context.Context, interval time.Duration) func() {
	replayCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-replayCtx.Done():
				return
			case <-ticker.C:
				s.replayPending(replayCtx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (s *ChatService) replayPending(ctx context.Context) {
	entries, err := s.wal.Pending()
	if err != nil {
		logger.Log.Error("Replay: failed to read journal", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}

	var persisted []string
	for _, entry := range entries {
		msg := entry.Message
		if err := s.store.Insert(ctx, &msg); err != nil {
			logger.Log.Warn("Replay: persist still failing",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			continue
		}
		persisted = append(persisted, msg.ID)
		s.index.Update(&msg)
	}

	if len(persisted) == 0 {
		return
	}
	if err := s.wal.Cleanup(persisted); err != nil {
		logger.Log.Error("Replay: journal cleanup failed", zap.Error(err))
		return
	}

	logger.Log.Info("Replay: recovered journaled messages",
		zap.Int("count", len(persisted)),
	)
}
