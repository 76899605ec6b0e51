package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messenger-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository abstracts message persistence and read-state tracking.
type MessageRepository interface {
	CreateMessage(ctx context.Context, conversationID int, senderID int, content string) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	UpdateContent(ctx context.Context, messageID int, content string) (models.Message, error)
	MarkDeleted(ctx context.Context, messageID int) (models.Message, error)
	ListForConversation(ctx context.Context, conversationID int) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID int, readerID int, readAt time.Time) (int, error)
	UnreadCount(ctx context.Context, userID int) (int, error)
	UnreadCountsByConversation(ctx context.Context, userID int) ([]models.UnreadSummary, error)
}

// MessageRepo is a sqlx implementation of MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.content, m.is_edited, m.is_deleted, m.created_at,
        ARRAY(SELECT r.user_id FROM message_reads r WHERE r.message_id = m.id ORDER BY r.user_id) AS read_by`

// CreateMessage persists a new active message. This is the only path that
// creates message rows.
func (r *MessageRepo) CreateMessage(ctx context.Context, conversationID int, senderID int, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (conversation_id, sender_id, content)
        VALUES ($1, $2, $3)
        RETURNING id, conversation_id, sender_id, content, is_edited, is_deleted, created_at`, conversationID, senderID, content).
		Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.IsEdited, &msg.IsDeleted, &msg.Timestamp)
	if err != nil {
		return models.Message{}, err
	}
	msg.ReadBy = pq.Int64Array{}
	return msg, nil
}

// GetMessage retrieves one message with its readBy set.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages m WHERE m.id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// UpdateContent replaces the content and flags the message as edited. The
// creation timestamp is untouched.
func (r *MessageRepo) UpdateContent(ctx context.Context, messageID int, content string) (models.Message, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET content=$2, is_edited=TRUE WHERE id=$1`, messageID, content)
	if err != nil {
		return models.Message{}, err
	}
	if err := requireRow(res); err != nil {
		return models.Message{}, err
	}
	return r.GetMessage(ctx, messageID)
}

// MarkDeleted tombstones the message. The row and its content survive; only
// the flag flips.
func (r *MessageRepo) MarkDeleted(ctx context.Context, messageID int) (models.Message, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_deleted=TRUE WHERE id=$1`, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if err := requireRow(res); err != nil {
		return models.Message{}, err
	}
	return r.GetMessage(ctx, messageID)
}

// ListForConversation returns the full ordered history of a conversation.
func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages m
        WHERE m.conversation_id=$1 ORDER BY m.created_at ASC, m.id ASC`, conversationID)
	return msgs, err
}

// MarkConversationRead adds readerID to the readBy set of every message in
// the conversation authored by someone else. ON CONFLICT keeps the operation
// idempotent; the returned count is the number of messages actually updated.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, conversationID int, readerID int, readAt time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id, read_at)
        SELECT m.id, $2, $3 FROM messages m WHERE m.conversation_id=$1 AND m.sender_id<>$2
        ON CONFLICT (message_id, user_id) DO NOTHING`, conversationID, readerID, readAt)
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	return int(count), err
}

// UnreadCount recomputes the user's total unread messages across every
// conversation they participate in. No incremental counter is kept; the query
// is the source of truth.
func (r *MessageRepo) UnreadCount(ctx context.Context, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages m
        JOIN conversation_participants p ON p.conversation_id = m.conversation_id AND p.user_id=$1
        WHERE m.sender_id<>$1
        AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id=$1)`, userID)
	return count, err
}

// UnreadCountsByConversation groups the unread total per conversation.
func (r *MessageRepo) UnreadCountsByConversation(ctx context.Context, userID int) ([]models.UnreadSummary, error) {
	var summaries []models.UnreadSummary
	err := r.db.SelectContext(ctx, &summaries, `SELECT m.conversation_id, COUNT(*) AS unread FROM messages m
        JOIN conversation_participants p ON p.conversation_id = m.conversation_id AND p.user_id=$1
        WHERE m.sender_id<>$1
        AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id=$1)
        GROUP BY m.conversation_id
        ORDER BY m.conversation_id`, userID)
	return summaries, err
}

func requireRow(res sql.Result) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}
