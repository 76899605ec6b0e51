package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messenger-service/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	CreateOrGetDirect(ctx context.Context, userID int, otherID int) (models.Conversation, error)
	CreateGroup(ctx context.Context, adminID int, name string, participantIDs []int) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID int) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error)
	Participants(ctx context.Context, conversationID int) ([]int, error)
	ListForUser(ctx context.Context, userID int) ([]models.Conversation, error)
	SetLastMessage(ctx context.Context, conversationID int, messageID int) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `id, is_group, COALESCE(group_name, '') AS group_name, group_admin, last_message_id, created_at, updated_at`

// CreateOrGetDirect returns the direct conversation between the two users,
// creating it on first request. The unordered pair is keyed in direct_key so
// repeated requests always resolve to the same row.
func (r *ConversationRepo) CreateOrGetDirect(ctx context.Context, userID int, otherID int) (models.Conversation, error) {
	if userID == otherID {
		return models.Conversation{}, errors.New("cannot create conversation with self")
	}

	lo, hi := userID, otherID
	if lo > hi {
		lo, hi = hi, lo
	}
	directKey := fmt.Sprintf("%d:%d", lo, hi)

	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE direct_key=$1`, directKey)
	if err == nil {
		return r.withParticipants(ctx, conv)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer tx.Rollback()

	// A concurrent creator may have won the race; ON CONFLICT keeps the
	// insert idempotent and the follow-up select resolves either way.
	if _, err := tx.ExecContext(ctx, `INSERT INTO conversations (is_group, direct_key) VALUES (FALSE, $1)
        ON CONFLICT (direct_key) DO NOTHING`, directKey); err != nil {
		return models.Conversation{}, err
	}
	if err := tx.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE direct_key=$1`, directKey); err != nil {
		return models.Conversation{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2), ($1, $3)
        ON CONFLICT DO NOTHING`, conv.ID, lo, hi); err != nil {
		return models.Conversation{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Conversation{}, err
	}

	conv.Participants = []int{lo, hi}
	return conv, nil
}

// CreateGroup creates a group conversation with the admin always included as
// a participant.
func (r *ConversationRepo) CreateGroup(ctx context.Context, adminID int, name string, participantIDs []int) (models.Conversation, error) {
	members := map[int]struct{}{adminID: {}}
	for _, id := range participantIDs {
		members[id] = struct{}{}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer tx.Rollback()

	var conv models.Conversation
	if err := tx.QueryRowxContext(ctx, `INSERT INTO conversations (is_group, group_name, group_admin) VALUES (TRUE, $1, $2)
        RETURNING `+conversationColumns, name, adminID).StructScan(&conv); err != nil {
		return models.Conversation{}, err
	}

	for id := range members {
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)`, conv.ID, id); err != nil {
			return models.Conversation{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Conversation{}, err
	}

	return r.withParticipants(ctx, conv)
}

// GetConversation fetches a conversation by id, participants included.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}
	return r.withParticipants(ctx, conv)
}

// IsParticipant checks current membership against the store. Callers must not
// cache the result across connections; membership can change underneath them.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id=$1 AND user_id=$2)`, conversationID, userID)
	return exists, err
}

// Participants returns the ordered participant set of a conversation.
func (r *ConversationRepo) Participants(ctx context.Context, conversationID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM conversation_participants WHERE conversation_id=$1 ORDER BY user_id`, conversationID)
	return ids, err
}

// ListForUser returns the user's conversations, most recently active first.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID int) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs, `SELECT c.id, c.is_group, COALESCE(c.group_name, '') AS group_name, c.group_admin, c.last_message_id, c.created_at, c.updated_at
        FROM conversations c
        JOIN conversation_participants p ON p.conversation_id = c.id
        WHERE p.user_id=$1
        ORDER BY c.updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}

	if len(convs) == 0 {
		return convs, nil
	}

	ids := make([]int64, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, int64(c.ID))
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT conversation_id, user_id FROM conversation_participants
        WHERE conversation_id = ANY($1) ORDER BY user_id`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byConv := map[int][]int{}
	for rows.Next() {
		var convID, memberID int
		if err := rows.Scan(&convID, &memberID); err != nil {
			return nil, err
		}
		byConv[convID] = append(byConv[convID], memberID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range convs {
		convs[i].Participants = byConv[convs[i].ID]
	}
	return convs, nil
}

// SetLastMessage moves the conversation's last-message pointer and refreshes
// its activity timestamp.
func (r *ConversationRepo) SetLastMessage(ctx context.Context, conversationID int, messageID int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET last_message_id=$2, updated_at=NOW() WHERE id=$1`, conversationID, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (r *ConversationRepo) withParticipants(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	participants, err := r.Participants(ctx, conv.ID)
	if err != nil {
		return models.Conversation{}, err
	}
	conv.Participants = participants
	return conv, nil
}
