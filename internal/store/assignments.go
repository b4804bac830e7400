// ABOUTME: Expert assignment history queries for the SQL store
// ABOUTME: Rows are written by the conversation assignment transitions

package store

import (
	"context"
	"database/sql"
	"fmt"
)

const assignmentColumns = `id, conversation_id, expert_id, status, assigned_at, resolved_at`

// ListAssignmentsForExpert returns the expert's assignments, newest first.
func (s *SQLStore) ListAssignmentsForExpert(ctx context.Context, expertID int64) ([]*ExpertAssignment, error) {
	return s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+`
		FROM expert_assignments
		WHERE expert_id = ?
		ORDER BY assigned_at DESC, id DESC
	`, expertID)
}

// ListAssignmentsForConversation returns every claim cycle of a conversation, oldest first.
func (s *SQLStore) ListAssignmentsForConversation(ctx context.Context, conversationID int64) ([]*ExpertAssignment, error) {
	return s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+`
		FROM expert_assignments
		WHERE conversation_id = ?
		ORDER BY assigned_at ASC, id ASC
	`, conversationID)
}

func (s *SQLStore) queryAssignments(ctx context.Context, query string, args ...any) ([]*ExpertAssignment, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying assignments: %w", err)
	}
	defer rows.Close()

	var out []*ExpertAssignment
	for rows.Next() {
		var a ExpertAssignment
		var status, assignedAt string
		var resolvedAt sql.NullString
		if err := rows.Scan(&a.ID, &a.ConversationID, &a.ExpertID, &status, &assignedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scanning assignment: %w", err)
		}
		a.Status = AssignmentStatus(status)
		if a.AssignedAt, err = parseTime(assignedAt); err != nil {
			return nil, fmt.Errorf("parsing assigned_at: %w", err)
		}
		if a.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
			return nil, fmt.Errorf("parsing resolved_at: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating assignment rows: %w", err)
	}
	return out, nil
}
