// ABOUTME: Message persistence for the SQL store
// ABOUTME: Message creation touches the conversation timestamps in the same transaction

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const messageColumns = `id, conversation_id, sender_id, sender_role, content, is_read, created_at`

// CreateMessage inserts a message and sets the conversation's last_message_at
// and updated_at to the message time.
func (s *SQLStore) CreateMessage(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	stamp := formatTime(msg.CreatedAt)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := s.insertReturningID(ctx, tx, `
			INSERT INTO messages (conversation_id, sender_id, sender_role, content, is_read, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, msg.ConversationID, msg.SenderID, string(msg.SenderRole), msg.Content, msg.IsRead, stamp)
		if err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
		msg.ID = id

		result, err := tx.ExecContext(ctx, s.q(`
			UPDATE conversations SET last_message_at = ?, updated_at = ? WHERE id = ?
		`), stamp, stamp, msg.ConversationID)
		if err != nil {
			return fmt.Errorf("touching conversation: %w", err)
		}
		return requireRows(result)
	})
	if err != nil {
		return err
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "role", msg.SenderRole)
	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+messageColumns+` FROM messages WHERE id = ?`), id)
	return scanMessage(row)
}

// ListMessages returns every message of a conversation in chronological order.
func (s *SQLStore) ListMessages(ctx context.Context, conversationID int64) ([]*Message, error) {
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`, conversationID)
}

// ListFirstMessages returns the oldest limit messages in chronological order.
func (s *SQLStore) ListFirstMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, conversationID, limit)
}

// ListRecentMessages returns the newest limit messages, still in chronological order.
func (s *SQLStore) ListRecentMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM (
			SELECT `+messageColumns+`
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) recent
		ORDER BY created_at ASC, id ASC
	`, conversationID, limit)
}

// ListMessagesForUser returns messages in conversations the user initiated or is
// assigned to, oldest first. A non-nil since keeps only messages created strictly after it.
func (s *SQLStore) ListMessagesForUser(ctx context.Context, userID int64, since *time.Time) ([]*Message, error) {
	where, args := sinceClause(`conversation_id IN (
			SELECT id FROM conversations WHERE initiator_id = ? OR assigned_expert_id = ?
		)`, "created_at", since, userID, userID)
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE `+where+`
		ORDER BY created_at ASC, id ASC
	`, args...)
}

// CountMessagesThrough counts the conversation's messages up to and including
// messageID. IDs increase with insertion, so this is the message's position.
func (s *SQLStore) CountMessagesThrough(ctx context.Context, conversationID, messageID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND id <= ?`),
		conversationID, messageID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// CountUnread returns how many messages not sent by viewerID are still unread.
func (s *SQLStore) CountUnread(ctx context.Context, conversationID, viewerID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND sender_id <> ? AND is_read = ?
	`), conversationID, viewerID, false).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return n, nil
}

// MarkMessageRead flips is_read to true. It reports whether the row changed,
// so repeated calls are harmless.
func (s *SQLStore) MarkMessageRead(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.q(`UPDATE messages SET is_read = ? WHERE id = ? AND is_read = ?`), true, id, false)
	if err != nil {
		return false, fmt.Errorf("marking message read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	if _, err := s.GetMessage(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLStore) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

func scanMessage(row scanner) (*Message, error) {
	var m Message
	var role, createdAt string
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &role, &m.Content, &m.IsRead, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	m.SenderRole = SenderRole(role)
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}
	return &m, nil
}
