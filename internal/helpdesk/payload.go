// ABOUTME: JSON response payloads and the renderer that builds them from store records
// ABOUTME: IDs render as strings and timestamps as RFC 3339, matching the client API

package helpdesk

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/2389/helpdesk-gateway/internal/store"
)

const (
	excerptLimit = 100
	noMessages   = "No messages yet"
)

// ConversationPayload is a conversation as seen by one viewer.
type ConversationPayload struct {
	ID                     string  `json:"id"`
	Title                  string  `json:"title"`
	Summary                string  `json:"summary"`
	Status                 string  `json:"status"`
	QuestionerID           string  `json:"questionerId"`
	QuestionerUsername     string  `json:"questionerUsername"`
	AssignedExpertID       *string `json:"assignedExpertId"`
	AssignedExpertUsername *string `json:"assignedExpertUsername"`
	CreatedAt              string  `json:"createdAt"`
	UpdatedAt              string  `json:"updatedAt"`
	LastMessageAt          *string `json:"lastMessageAt"`
	UnreadCount            int     `json:"unreadCount"`
}

// MessagePayload is a single chat message.
type MessagePayload struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderUsername string `json:"senderUsername"`
	SenderRole     string `json:"senderRole"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
	IsRead         bool   `json:"isRead"`
}

// AssignmentPayload is one entry of an expert's assignment history.
// Rating is always null; ratings are not collected.
type AssignmentPayload struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversationId"`
	ExpertID       string  `json:"expertId"`
	Status         string  `json:"status"`
	AssignedAt     string  `json:"assignedAt"`
	ResolvedAt     *string `json:"resolvedAt"`
	Rating         *int    `json:"rating"`
}

// ProfilePayload is an expert profile.
type ProfilePayload struct {
	ID                 string   `json:"id"`
	UserID             string   `json:"userId"`
	Bio                string   `json:"bio"`
	KnowledgeBaseLinks []string `json:"knowledgeBaseLinks"`
	CreatedAt          string   `json:"createdAt"`
	UpdatedAt          string   `json:"updatedAt"`
}

// QueuePayload is an expert's view of the waiting queue and their own active work.
type QueuePayload struct {
	WaitingConversations  []ConversationPayload `json:"waitingConversations"`
	AssignedConversations []ConversationPayload `json:"assignedConversations"`
}

// Empty reports whether both halves of the queue are empty.
func (q QueuePayload) Empty() bool {
	return len(q.WaitingConversations) == 0 && len(q.AssignedConversations) == 0
}

// Renderer builds payloads, looking up usernames, excerpts and unread counts.
// It memoizes usernames, so use one Renderer per request or stream tick.
type Renderer struct {
	store store.Store
	names map[int64]string
}

// NewRenderer creates a Renderer.
func NewRenderer(s store.Store) *Renderer {
	return &Renderer{store: s, names: make(map[int64]string)}
}

func (r *Renderer) username(ctx context.Context, userID int64) (string, error) {
	if name, ok := r.names[userID]; ok {
		return name, nil
	}
	u, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("loading user %d: %w", userID, err)
	}
	r.names[userID] = u.Username
	return u.Username, nil
}

// Conversation renders conv for viewerID.
func (r *Renderer) Conversation(ctx context.Context, conv *store.Conversation, viewerID int64) (ConversationPayload, error) {
	questioner, err := r.username(ctx, conv.InitiatorID)
	if err != nil {
		return ConversationPayload{}, err
	}

	summary, err := r.summary(ctx, conv)
	if err != nil {
		return ConversationPayload{}, err
	}

	unread, err := r.store.CountUnread(ctx, conv.ID, viewerID)
	if err != nil {
		return ConversationPayload{}, fmt.Errorf("counting unread messages: %w", err)
	}

	p := ConversationPayload{
		ID:                 formatID(conv.ID),
		Title:              conv.Title,
		Summary:            summary,
		Status:             string(conv.Status),
		QuestionerID:       formatID(conv.InitiatorID),
		QuestionerUsername: questioner,
		CreatedAt:          formatTime(conv.CreatedAt),
		UpdatedAt:          formatTime(conv.UpdatedAt),
		LastMessageAt:      formatOptionalTime(conv.LastMessageAt),
		UnreadCount:        unread,
	}
	if conv.AssignedExpertID != nil {
		id := formatID(*conv.AssignedExpertID)
		name, err := r.username(ctx, *conv.AssignedExpertID)
		if err != nil {
			return ConversationPayload{}, err
		}
		p.AssignedExpertID = &id
		p.AssignedExpertUsername = &name
	}
	return p, nil
}

// Conversations renders a list, preserving order. The result is never nil.
func (r *Renderer) Conversations(ctx context.Context, convs []*store.Conversation, viewerID int64) ([]ConversationPayload, error) {
	out := make([]ConversationPayload, 0, len(convs))
	for _, c := range convs {
		p, err := r.Conversation(ctx, c, viewerID)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// summary is the stored summary, else an excerpt of the first message.
func (r *Renderer) summary(ctx context.Context, conv *store.Conversation) (string, error) {
	if conv.Summary != nil {
		return *conv.Summary, nil
	}
	first, err := r.store.ListFirstMessages(ctx, conv.ID, 1)
	if err != nil {
		return "", fmt.Errorf("loading first message: %w", err)
	}
	if len(first) == 0 {
		return noMessages, nil
	}
	return excerpt(first[0].Content, excerptLimit), nil
}

// Message renders a message.
func (r *Renderer) Message(ctx context.Context, msg *store.Message) (MessagePayload, error) {
	sender, err := r.username(ctx, msg.SenderID)
	if err != nil {
		return MessagePayload{}, err
	}
	return MessagePayload{
		ID:             formatID(msg.ID),
		ConversationID: formatID(msg.ConversationID),
		SenderID:       formatID(msg.SenderID),
		SenderUsername: sender,
		SenderRole:     string(msg.SenderRole),
		Content:        msg.Content,
		Timestamp:      formatTime(msg.CreatedAt),
		IsRead:         msg.IsRead,
	}, nil
}

// Messages renders a list, preserving order. The result is never nil.
func (r *Renderer) Messages(ctx context.Context, msgs []*store.Message) ([]MessagePayload, error) {
	out := make([]MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		p, err := r.Message(ctx, m)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Assignment renders an assignment history entry.
func Assignment(a *store.ExpertAssignment) AssignmentPayload {
	return AssignmentPayload{
		ID:             formatID(a.ID),
		ConversationID: formatID(a.ConversationID),
		ExpertID:       formatID(a.ExpertID),
		Status:         string(a.Status),
		AssignedAt:     formatTime(a.AssignedAt),
		ResolvedAt:     formatOptionalTime(a.ResolvedAt),
	}
}

// Profile renders an expert profile.
func Profile(p *store.ExpertProfile) ProfilePayload {
	links := p.KnowledgeBaseLinks
	if links == nil {
		links = []string{}
	}
	return ProfilePayload{
		ID:                 formatID(p.ID),
		UserID:             formatID(p.UserID),
		Bio:                p.Bio,
		KnowledgeBaseLinks: links,
		CreatedAt:          formatTime(p.CreatedAt),
		UpdatedAt:          formatTime(p.UpdatedAt),
	}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// excerpt cuts s to limit runes, ending in "..." when shortened.
func excerpt(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
