package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

// Receipts tracks which users have observed which messages. Read state is a
// secondary signal layered on top of delivery; its failures never block the
// message path.
type Receipts struct {
	convs repositories.ConversationRepository
	msgs  repositories.MessageRepository
	rooms *Rooms
	now   func() time.Time
}

// NewReceipts constructs a Receipts tracker.
func NewReceipts(convs repositories.ConversationRepository, msgs repositories.MessageRepository, rooms *Rooms) *Receipts {
	return &Receipts{convs: convs, msgs: msgs, rooms: rooms, now: time.Now}
}

// MarkRead adds the reader to the readBy set of every message in the
// conversation authored by someone else. The operation is idempotent; a call
// that changes nothing does not re-broadcast.
func (t *Receipts) MarkRead(ctx context.Context, readerID int, conversationID int) error {
	if conversationID == 0 {
		return NewValidationError("conversation id is required")
	}

	member, err := t.convs.IsParticipant(ctx, conversationID, readerID)
	if err != nil {
		return fmt.Errorf("verify membership: %w", err)
	}
	if !member {
		return NewAuthorizationError("you are not a participant of this conversation")
	}

	readAt := t.now()
	updated, err := t.msgs.MarkConversationRead(ctx, conversationID, readerID, readAt)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if updated == 0 {
		return nil
	}

	t.rooms.Broadcast(conversationID, models.ServerEvent{
		Type:           models.EventMessagesRead,
		ReaderID:       readerID,
		ConversationID: conversationID,
		ReadAt:         &readAt,
	})

	logrus.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"reader_id":       readerID,
		"updated":         updated,
	}).Debug("messages marked read")
	return nil
}

// UnreadCount recomputes the user's unread total on demand. Messages the user
// authored are never counted.
func (t *Receipts) UnreadCount(ctx context.Context, userID int) (int, error) {
	count, err := t.msgs.UnreadCount(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}
