package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMessageRepo(t *testing.T) (*MessageRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewMessageRepo(sqlx.NewDb(db, "postgres")), mock
}

func TestUnreadCountExcludesOwnMessages(t *testing.T) {
	repo, mock := newMessageRepo(t)

	// The issued query must never count the user's own messages and must
	// skip anything already in their readBy set.
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM messages m .*m\.sender_id<>\$1 .*NOT EXISTS \(SELECT 1 FROM message_reads r`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.UnreadCount(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 4, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnreadCountsByConversationExcludesOwnMessages(t *testing.T) {
	repo, mock := newMessageRepo(t)

	mock.ExpectQuery(`m\.sender_id<>\$1 .*NOT EXISTS \(SELECT 1 FROM message_reads r .*GROUP BY m\.conversation_id`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id", "unread"}).AddRow(10, 2).AddRow(11, 1))

	summaries, err := repo.UnreadCountsByConversation(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, 10, summaries[0].ConversationID)
	require.Equal(t, 2, summaries[0].Unread)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkConversationReadSkipsOwnMessagesAndIsIdempotent(t *testing.T) {
	repo, mock := newMessageRepo(t)
	readAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Reader's own messages are filtered out in the insert's source select;
	// the conflict clause makes a repeat call a no-op.
	insertPattern := `INSERT INTO message_reads .*m\.sender_id<>\$2 ON CONFLICT \(message_id, user_id\) DO NOTHING`
	mock.ExpectExec(insertPattern).WithArgs(10, 7, readAt).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(insertPattern).WithArgs(10, 7, readAt).WillReturnResult(sqlmock.NewResult(0, 0))

	updated, err := repo.MarkConversationRead(context.Background(), 10, 7, readAt)
	require.NoError(t, err)
	require.Equal(t, 3, updated)

	updated, err = repo.MarkConversationRead(context.Background(), 10, 7, readAt)
	require.NoError(t, err)
	require.Equal(t, 0, updated)
	require.NoError(t, mock.ExpectationsWereMet())
}
