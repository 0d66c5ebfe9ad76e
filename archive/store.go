package archive

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/onnwee/chatcaster/chat"
)

// PGStore is the Postgres Store.
type PGStore struct {
	DB *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore { return &PGStore{DB: db} }

const insertMessage = `INSERT INTO chat_messages (id, video_id, author, message, is_member, is_gift, gift_amount, sent_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
ON CONFLICT (id) DO NOTHING`

// InsertBatch writes msgs in one transaction.
func (s *PGStore) InsertBatch(ctx context.Context, msgs []chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertMessage)
	if err != nil {
		return fmt.Errorf("prepare archive insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.ExecContext(ctx, m.ID, m.VideoID, m.Author, m.Text, m.IsMember, m.IsGift, m.GiftAmount, m.Timestamp.UTC()); err != nil {
			return fmt.Errorf("insert archived message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit of the latest messages for videoID,
// oldest first.
func (s *PGStore) RecentMessages(ctx context.Context, videoID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, video_id, author, message, is_member, is_gift, COALESCE(gift_amount, ''), sent_at
FROM chat_messages WHERE video_id = $1 ORDER BY sent_at DESC LIMIT $2`, videoID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.ID, &m.VideoID, &m.Author, &m.Text, &m.IsMember, &m.IsGift, &m.GiftAmount, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Ping checks the database connection.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}
