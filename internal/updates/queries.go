// ABOUTME: Since-filtered pull queries for conversations, messages and the expert queue
// ABOUTME: Results are rendered payloads, ready to encode as JSON or stream events

package updates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2389/helpdesk-gateway/internal/helpdesk"
	"github.com/2389/helpdesk-gateway/internal/store"
)

// ErrInvalidTimestamp is returned by ParseSince for values that are not ISO 8601.
var ErrInvalidTimestamp = errors.New("invalid timestamp format")

// ParseSince parses an optional since parameter. An empty value means no lower bound.
func ParseSince(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
	}
	t = t.UTC()
	return &t, nil
}

// Queries runs the since-filtered reads.
type Queries struct {
	store store.Store
}

// NewQueries creates Queries.
func NewQueries(s store.Store) *Queries {
	return &Queries{store: s}
}

// ConversationsSince returns the user's conversations updated after since,
// most recently updated first.
func (q *Queries) ConversationsSince(ctx context.Context, userID int64, since *time.Time) ([]helpdesk.ConversationPayload, error) {
	return q.conversationsSince(ctx, helpdesk.NewRenderer(q.store), userID, since)
}

// MessagesSince returns messages in the user's conversations created after
// since, oldest first.
func (q *Queries) MessagesSince(ctx context.Context, userID int64, since *time.Time) ([]helpdesk.MessagePayload, error) {
	return q.messagesSince(ctx, helpdesk.NewRenderer(q.store), userID, since)
}

// ExpertQueueSince returns waiting conversations and the expert's active
// conversations, each filtered on updated_at.
func (q *Queries) ExpertQueueSince(ctx context.Context, expertID int64, since *time.Time) (helpdesk.QueuePayload, error) {
	return q.expertQueueSince(ctx, helpdesk.NewRenderer(q.store), expertID, since)
}

func (q *Queries) conversationsSince(ctx context.Context, r *helpdesk.Renderer, userID int64, since *time.Time) ([]helpdesk.ConversationPayload, error) {
	convs, err := q.store.ListConversationsForUser(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("listing conversation updates: %w", err)
	}
	return r.Conversations(ctx, convs, userID)
}

func (q *Queries) messagesSince(ctx context.Context, r *helpdesk.Renderer, userID int64, since *time.Time) ([]helpdesk.MessagePayload, error) {
	msgs, err := q.store.ListMessagesForUser(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("listing message updates: %w", err)
	}
	return r.Messages(ctx, msgs)
}

func (q *Queries) expertQueueSince(ctx context.Context, r *helpdesk.Renderer, expertID int64, since *time.Time) (helpdesk.QueuePayload, error) {
	waiting, err := q.store.ListWaitingConversations(ctx, since)
	if err != nil {
		return helpdesk.QueuePayload{}, fmt.Errorf("listing waiting updates: %w", err)
	}
	assigned, err := q.store.ListActiveConversationsForExpert(ctx, expertID, since)
	if err != nil {
		return helpdesk.QueuePayload{}, fmt.Errorf("listing assigned updates: %w", err)
	}
	return helpdesk.RenderQueue(ctx, r, waiting, assigned, expertID)
}
