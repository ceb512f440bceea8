package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/astrosevaa/sessiond/internal/database"
	"github.com/astrosevaa/sessiond/internal/model"
)

// ArchiveSchema creates the chat archive table when it is missing.
const ArchiveSchema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	message_key  TEXT PRIMARY KEY,
	message_id   TEXT NOT NULL DEFAULT '',
	session_id   TEXT NOT NULL,
	sender_id    TEXT NOT NULL,
	receiver_id  TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL DEFAULT '',
	message_type TEXT NOT NULL DEFAULT 'TEXT',
	sent_at      TIMESTAMPTZ NOT NULL,
	archived_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS chat_messages_session_sent_idx ON chat_messages (session_id, sent_at DESC);
`

const insertArchivedMessage = `
	INSERT INTO chat_messages (message_key, message_id, session_id, sender_id, receiver_id, body, message_type, sent_at)
	VALUES (:message_key, :message_id, :session_id, :sender_id, :receiver_id, :body, :message_type, :sent_at)
	ON CONFLICT (message_key) DO NOTHING
`

type ChatArchiveRepository interface {
	EnsureSchema(ctx context.Context) error
	Archive(ctx context.Context, msg model.Message) error
	ArchiveAll(ctx context.Context, msgs []model.Message) error
	FindByKey(ctx context.Context, key string) (*model.ArchivedMessage, error)
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]model.ArchivedMessage, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type chatArchiveRepo struct {
	db *database.DB
}

func NewChatArchiveRepository(db *database.DB) ChatArchiveRepository {
	return &chatArchiveRepo{db: db}
}

func (r *chatArchiveRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, ArchiveSchema)
	return err
}

func (r *chatArchiveRepo) Archive(ctx context.Context, msg model.Message) error {
	_, err := r.db.NamedExecContext(ctx, insertArchivedMessage, model.NewArchivedMessage(msg))
	return err
}

func (r *chatArchiveRepo) ArchiveAll(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, m := range msgs {
			if _, err := tx.NamedExecContext(ctx, insertArchivedMessage, model.NewArchivedMessage(m)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *chatArchiveRepo) FindByKey(ctx context.Context, key string) (*model.ArchivedMessage, error) {
	return getOne[model.ArchivedMessage](ctx, r.db, `SELECT * FROM chat_messages WHERE message_key = $1`, key)
}

func (r *chatArchiveRepo) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]model.ArchivedMessage, error) {
	var msgs []model.ArchivedMessage
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM chat_messages
		WHERE session_id = $1
		ORDER BY sent_at DESC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	return msgs, err
}

func (r *chatArchiveRepo) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM chat_messages WHERE session_id = $1
	`, sessionID)
	return count, err
}

func (r *chatArchiveRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE sent_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
