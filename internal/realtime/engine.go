package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/repositories"
)

// MutabilityWindow is how long after creation the sender may still edit or
// delete a message. Server-enforced; clients are never trusted with it.
const MutabilityWindow = 30 * time.Second

// Engine validates and applies the message lifecycle: create, edit within the
// mutability window, tombstone delete. Every successful transition is
// persisted before it is broadcast to the conversation's room.
type Engine struct {
	convs repositories.ConversationRepository
	msgs  repositories.MessageRepository
	rooms *Rooms
	now   func() time.Time
}

// NewEngine constructs an Engine against the given store and room table.
func NewEngine(convs repositories.ConversationRepository, msgs repositories.MessageRepository, rooms *Rooms) *Engine {
	return &Engine{convs: convs, msgs: msgs, rooms: rooms, now: time.Now}
}

// Send persists a new message, moves the conversation's last-message pointer
// and broadcasts the populated record.
func (e *Engine) Send(ctx context.Context, senderID int, conversationID int, content string) (models.Message, error) {
	if conversationID == 0 {
		return models.Message{}, NewValidationError("conversation id is required")
	}
	trimmed, err := validContent(content)
	if err != nil {
		return models.Message{}, err
	}

	member, err := e.convs.IsParticipant(ctx, conversationID, senderID)
	if err != nil {
		return models.Message{}, fmt.Errorf("verify membership: %w", err)
	}
	if !member {
		return models.Message{}, NewAuthorizationError("you are not a participant of this conversation")
	}

	msg, err := e.msgs.CreateMessage(ctx, conversationID, senderID, trimmed)
	if err != nil {
		return models.Message{}, fmt.Errorf("create message: %w", err)
	}

	if err := e.convs.SetLastMessage(ctx, conversationID, msg.ID); err != nil {
		// The message is already persisted and will be delivered; a stale
		// pointer only degrades conversation-list ordering.
		logrus.WithFields(logrus.Fields{
			"conversation_id": conversationID,
			"message_id":      msg.ID,
		}).WithError(err).Warn("failed to update last message pointer")
	}

	e.rooms.Broadcast(conversationID, models.ServerEvent{Type: models.EventNewMessage, Message: &msg})
	e.publishLifecycle(ctx, "message.sent", msg)

	logrus.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"message_id":      msg.ID,
		"sender_id":       senderID,
	}).Info("message sent")
	return msg, nil
}

// Edit replaces the content of the caller's own message while the mutability
// window is still open. The creation timestamp survives the edit.
func (e *Engine) Edit(ctx context.Context, userID int, messageID int, newContent string) (models.Message, error) {
	if messageID == 0 {
		return models.Message{}, NewValidationError("message id is required")
	}
	trimmed, err := validContent(newContent)
	if err != nil {
		return models.Message{}, err
	}

	msg, err := e.mutableMessage(ctx, userID, messageID, "edit")
	if err != nil {
		return models.Message{}, err
	}

	updated, err := e.msgs.UpdateContent(ctx, msg.ID, trimmed)
	if err != nil {
		return models.Message{}, fmt.Errorf("update message: %w", err)
	}

	e.rooms.Broadcast(updated.ConversationID, models.ServerEvent{Type: models.EventMessageUpdated, Message: &updated})
	e.publishLifecycle(ctx, "message.edited", updated)

	logrus.WithFields(logrus.Fields{
		"conversation_id": updated.ConversationID,
		"message_id":      updated.ID,
		"sender_id":       userID,
	}).Info("message edited")
	return updated, nil
}

// Delete tombstones the caller's own message while the mutability window is
// still open. The row survives; the broadcast record carries no content.
func (e *Engine) Delete(ctx context.Context, userID int, messageID int) (models.Message, error) {
	if messageID == 0 {
		return models.Message{}, NewValidationError("message id is required")
	}

	msg, err := e.mutableMessage(ctx, userID, messageID, "delete")
	if err != nil {
		return models.Message{}, err
	}

	deleted, err := e.msgs.MarkDeleted(ctx, msg.ID)
	if err != nil {
		return models.Message{}, fmt.Errorf("delete message: %w", err)
	}

	tombstone := deleted.Sanitized()
	e.rooms.Broadcast(tombstone.ConversationID, models.ServerEvent{Type: models.EventMessageDeleted, Message: &tombstone})
	e.publishLifecycle(ctx, "message.deleted", tombstone)

	logrus.WithFields(logrus.Fields{
		"conversation_id": tombstone.ConversationID,
		"message_id":      tombstone.ID,
		"sender_id":       userID,
	}).Info("message deleted")
	return tombstone, nil
}

// mutableMessage loads the message and enforces the ownership and window
// rules shared by edit and delete.
func (e *Engine) mutableMessage(ctx context.Context, userID int, messageID int, op string) (models.Message, error) {
	msg, err := e.msgs.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return models.Message{}, NewNotFoundError("message not found")
		}
		return models.Message{}, fmt.Errorf("load message: %w", err)
	}
	if msg.SenderID != userID {
		return models.Message{}, NewAuthorizationError("you can only %s your own messages", op)
	}
	if e.now().Sub(msg.Timestamp) > MutabilityWindow {
		return models.Message{}, NewWindowExpiredError("messages can only be %sd within %d seconds", op, int(MutabilityWindow.Seconds()))
	}
	return msg, nil
}

func (e *Engine) publishLifecycle(ctx context.Context, name string, msg models.Message) {
	_ = observability.PublishEvent(ctx, "messages."+name, observability.EventEnvelope{
		EventType: "message_lifecycle",
		EventName: name,
		Payload:   msg,
	}, nil)
}

func validContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", NewValidationError("message content cannot be empty")
	}
	if utf8.RuneCountInString(trimmed) > models.MaxMessageLength {
		return "", NewValidationError("message content cannot exceed %d characters", models.MaxMessageLength)
	}
	return trimmed, nil
}
