package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// History returns a session's messages in the order they were appended.
// An unknown session has an empty history.
func (db *DB) History(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT role, content FROM messages WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AppendMessages adds messages to the end of a session's history.
func (db *DB) AppendMessages(ctx context.Context, sessionID string, msgs ...models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	now := formatTime(time.Now())

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, m := range msgs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)
			`, sessionID, m.Role, m.Content, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	return nil
}

// ClearHistory deletes every message of a session.
func (db *DB) ClearHistory(ctx context.Context, sessionID string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
