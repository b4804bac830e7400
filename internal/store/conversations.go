// ABOUTME: Conversation persistence and assignment transitions for the SQL store
// ABOUTME: Claim, unclaim and resolve are compare-and-set updates paired with assignment rows

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const conversationColumns = `id, title, status, initiator_id, assigned_expert_id, summary,
	summary_updated_at, last_message_at, created_at, updated_at`

// CreateConversation inserts a new waiting conversation and sets conv.ID.
func (s *SQLStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}
	conv.Status = StatusWaiting
	conv.AssignedExpertID = nil

	return s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := s.insertReturningID(ctx, tx, `
			INSERT INTO conversations (title, status, initiator_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, conv.Title, string(conv.Status), conv.InitiatorID, formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt))
		if err != nil {
			return fmt.Errorf("inserting conversation: %w", err)
		}
		conv.ID = id
		return nil
	})
}

// GetConversation retrieves a conversation by ID.
func (s *SQLStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`), id)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversationsForUser returns conversations the user initiated or is assigned to,
// newest update first. A non-nil since keeps only rows updated strictly after it.
func (s *SQLStore) ListConversationsForUser(ctx context.Context, userID int64, since *time.Time) ([]*Conversation, error) {
	where, args := sinceClause(`(initiator_id = ? OR assigned_expert_id = ?)`, "updated_at", since, userID, userID)
	return s.queryConversations(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE `+where+`
		ORDER BY updated_at DESC, id DESC
	`, args...)
}

// ListWaitingConversations returns every waiting conversation, oldest first.
func (s *SQLStore) ListWaitingConversations(ctx context.Context, since *time.Time) ([]*Conversation, error) {
	where, args := sinceClause(`status = 'waiting'`, "updated_at", since)
	return s.queryConversations(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE `+where+`
		ORDER BY created_at ASC, id ASC
	`, args...)
}

// ListActiveConversationsForExpert returns the expert's active conversations,
// most recent message first, conversations without messages last.
func (s *SQLStore) ListActiveConversationsForExpert(ctx context.Context, expertID int64, since *time.Time) ([]*Conversation, error) {
	where, args := sinceClause(`assigned_expert_id = ? AND status = 'active'`, "updated_at", since, expertID)
	return s.queryConversations(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE `+where+`
		ORDER BY last_message_at IS NULL, last_message_at DESC, id DESC
	`, args...)
}

// UpdateSummary stores a new summary. summary_updated_at and updated_at receive
// the same instant so a resolved conversation is not summarized again.
func (s *SQLStore) UpdateSummary(ctx context.Context, conversationID int64, summary string, at time.Time) error {
	stamp := formatTime(at)
	result, err := s.db.ExecContext(ctx, s.q(`
		UPDATE conversations
		SET summary = ?, summary_updated_at = ?, updated_at = ?
		WHERE id = ?
	`), summary, stamp, stamp, conversationID)
	if err != nil {
		return fmt.Errorf("updating summary: %w", err)
	}
	return requireRows(result)
}

// AssignExpert moves a waiting conversation to active with the given expert and
// records an active assignment. Returns ErrAlreadyAssigned if the conversation
// was not waiting at the moment of the update.
func (s *SQLStore) AssignExpert(ctx context.Context, conversationID, expertID int64, at time.Time) (*ExpertAssignment, error) {
	assignment := &ExpertAssignment{
		ConversationID: conversationID,
		ExpertID:       expertID,
		Status:         AssignmentActive,
		AssignedAt:     at.UTC(),
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, s.q(`
			UPDATE conversations
			SET assigned_expert_id = ?, status = 'active', updated_at = ?
			WHERE id = ? AND status = 'waiting' AND assigned_expert_id IS NULL
		`), expertID, formatTime(at), conversationID)
		if err != nil {
			return fmt.Errorf("assigning expert: %w", err)
		}
		if err := s.checkTransition(ctx, tx, result, conversationID, ErrAlreadyAssigned); err != nil {
			return err
		}

		id, err := s.insertReturningID(ctx, tx, `
			INSERT INTO expert_assignments (conversation_id, expert_id, status, assigned_at)
			VALUES (?, ?, 'active', ?)
		`, conversationID, expertID, formatTime(at))
		if err != nil {
			return fmt.Errorf("inserting assignment: %w", err)
		}
		assignment.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("assigned expert", "conversation_id", conversationID, "expert_id", expertID)
	return assignment, nil
}

// UnassignExpert returns a conversation held by expertID to the waiting queue and
// resolves the expert's active assignment. Returns ErrNotAssignee if another
// expert (or nobody) holds it.
func (s *SQLStore) UnassignExpert(ctx context.Context, conversationID, expertID int64, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, s.q(`
			UPDATE conversations
			SET assigned_expert_id = NULL, status = 'waiting', updated_at = ?
			WHERE id = ? AND assigned_expert_id = ?
		`), formatTime(at), conversationID, expertID)
		if err != nil {
			return fmt.Errorf("unassigning expert: %w", err)
		}
		if err := s.checkTransition(ctx, tx, result, conversationID, ErrNotAssignee); err != nil {
			return err
		}
		return s.resolveActiveAssignment(ctx, tx, conversationID, expertID, at)
	})
}

// ResolveConversation marks an active conversation held by expertID as resolved
// and resolves its active assignment.
func (s *SQLStore) ResolveConversation(ctx context.Context, conversationID, expertID int64, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, s.q(`
			UPDATE conversations
			SET status = 'resolved', updated_at = ?
			WHERE id = ? AND assigned_expert_id = ? AND status = 'active'
		`), formatTime(at), conversationID, expertID)
		if err != nil {
			return fmt.Errorf("resolving conversation: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if n == 0 {
			var assigned sql.NullInt64
			err := tx.QueryRowContext(ctx, s.q(`SELECT assigned_expert_id FROM conversations WHERE id = ?`), conversationID).Scan(&assigned)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				return ErrNotFound
			case err != nil:
				return fmt.Errorf("checking conversation: %w", err)
			case !assigned.Valid || assigned.Int64 != expertID:
				return ErrNotAssignee
			default:
				return ErrInvalidState
			}
		}
		return s.resolveActiveAssignment(ctx, tx, conversationID, expertID, at)
	})
}

func (s *SQLStore) resolveActiveAssignment(ctx context.Context, tx *sql.Tx, conversationID, expertID int64, at time.Time) error {
	_, err := tx.ExecContext(ctx, s.q(`
		UPDATE expert_assignments
		SET status = 'resolved', resolved_at = ?
		WHERE conversation_id = ? AND expert_id = ? AND status = 'active'
	`), formatTime(at), conversationID, expertID)
	if err != nil {
		return fmt.Errorf("resolving assignment: %w", err)
	}
	return nil
}

// checkTransition maps a compare-and-set that touched no rows to ErrNotFound or conflict.
func (s *SQLStore) checkTransition(ctx context.Context, tx *sql.Tx, result sql.Result, conversationID int64, conflict error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM conversations WHERE id = ?`), conversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}
	return conflict
}

func (s *SQLStore) queryConversations(ctx context.Context, query string, args ...any) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}

func scanConversation(row scanner) (*Conversation, error) {
	var c Conversation
	var status, createdAt, updatedAt string
	var assigned sql.NullInt64
	var summary, summaryUpdatedAt, lastMessageAt sql.NullString

	err := row.Scan(&c.ID, &c.Title, &status, &c.InitiatorID, &assigned, &summary,
		&summaryUpdatedAt, &lastMessageAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	c.Status = ConversationStatus(status)
	if assigned.Valid {
		id := assigned.Int64
		c.AssignedExpertID = &id
	}
	if summary.Valid {
		text := summary.String
		c.Summary = &text
	}
	if c.SummaryUpdatedAt, err = parseNullTime(summaryUpdatedAt); err != nil {
		return nil, fmt.Errorf("parsing summary_updated_at: %w", err)
	}
	if c.LastMessageAt, err = parseNullTime(lastMessageAt); err != nil {
		return nil, fmt.Errorf("parsing last_message_at: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}

func requireRows(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
