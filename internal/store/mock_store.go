// ABOUTME: Mock Store implementation for testing
// ABOUTME: Mirrors the SQL store's ordering and compare-and-set semantics in memory

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	nextID        int64
	users         map[int64]*User
	profiles      map[int64]*ExpertProfile // keyed by user ID
	conversations map[int64]*Conversation
	messages      map[int64]*Message
	assignments   map[int64]*ExpertAssignment
	closed        bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[int64]*User),
		profiles:      make(map[int64]*ExpertProfile),
		conversations: make(map[int64]*Conversation),
		messages:      make(map[int64]*Message),
		assignments:   make(map[int64]*ExpertAssignment),
	}
}

func (m *MockStore) id() int64 {
	m.nextID++
	return m.nextID
}

// CreateUser stores a user and its empty expert profile.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == user.Username {
			return ErrDuplicate
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.ID = m.id()

	u := *user
	m.users[u.ID] = &u
	m.profiles[u.ID] = &ExpertProfile{
		ID:                 m.id(),
		UserID:             u.ID,
		KnowledgeBaseLinks: []string{},
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.CreatedAt,
	}
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// GetUserByUsername retrieves a user by username.
func (m *MockStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Username == username {
			result := *u
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// ListUsers returns all users ordered by ID.
func (m *MockStore) ListUsers(ctx context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var users []*User
	for _, u := range m.users {
		result := *u
		users = append(users, &result)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// GetExpertProfile retrieves the expert profile of a user.
func (m *MockStore) GetExpertProfile(ctx context.Context, userID int64) (*ExpertProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyProfile(p), nil
}

// UpdateExpertProfile replaces bio and links for profile.UserID.
func (m *MockStore) UpdateExpertProfile(ctx context.Context, profile *ExpertProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[profile.UserID]
	if !ok {
		return ErrNotFound
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now().UTC()
	}
	p.Bio = profile.Bio
	p.KnowledgeBaseLinks = append([]string{}, profile.KnowledgeBaseLinks...)
	p.UpdatedAt = profile.UpdatedAt
	return nil
}

// ListEligibleExperts returns users with a non-blank bio, ordered by user ID.
func (m *MockStore) ListEligibleExperts(ctx context.Context) ([]*EligibleExpert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var experts []*EligibleExpert
	for userID, p := range m.profiles {
		if strings.TrimSpace(p.Bio) == "" {
			continue
		}
		experts = append(experts, &EligibleExpert{
			UserID:             userID,
			Username:           m.users[userID].Username,
			Bio:                p.Bio,
			KnowledgeBaseLinks: append([]string{}, p.KnowledgeBaseLinks...),
		})
	}
	sort.Slice(experts, func(i, j int) bool { return experts[i].UserID < experts[j].UserID })
	return experts, nil
}

// CreateConversation stores a new waiting conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[conv.InitiatorID]; !ok {
		return ErrNotFound
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}
	conv.Status = StatusWaiting
	conv.AssignedExpertID = nil
	conv.ID = m.id()

	m.conversations[conv.ID] = copyConversation(conv)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

// ListConversationsForUser returns the user's conversations, newest update first.
func (m *MockStore) ListConversationsForUser(ctx context.Context, userID int64, since *time.Time) ([]*Conversation, error) {
	out := m.filterConversations(func(c *Conversation) bool {
		return c.IsParty(userID) && after(c.UpdatedAt, since)
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// ListWaitingConversations returns waiting conversations, oldest first.
func (m *MockStore) ListWaitingConversations(ctx context.Context, since *time.Time) ([]*Conversation, error) {
	out := m.filterConversations(func(c *Conversation) bool {
		return c.Status == StatusWaiting && after(c.UpdatedAt, since)
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListActiveConversationsForExpert returns the expert's active conversations,
// most recent message first, conversations without messages last.
func (m *MockStore) ListActiveConversationsForExpert(ctx context.Context, expertID int64, since *time.Time) ([]*Conversation, error) {
	out := m.filterConversations(func(c *Conversation) bool {
		return c.Status == StatusActive && c.AssignedExpertID != nil &&
			*c.AssignedExpertID == expertID && after(c.UpdatedAt, since)
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a == nil && b == nil:
			return out[i].ID > out[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		default:
			return out[i].ID > out[j].ID
		}
	})
	return out, nil
}

// UpdateSummary stores a new summary and bumps summary_updated_at and updated_at together.
func (m *MockStore) UpdateSummary(ctx context.Context, conversationID int64, summary string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	c.Summary = &summary
	c.SummaryUpdatedAt = &at
	c.UpdatedAt = at
	return nil
}

// AssignExpert moves a waiting conversation to active.
func (m *MockStore) AssignExpert(ctx context.Context, conversationID, expertID int64, at time.Time) (*ExpertAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status != StatusWaiting || c.AssignedExpertID != nil {
		return nil, ErrAlreadyAssigned
	}

	at = at.UTC()
	id := expertID
	c.AssignedExpertID = &id
	c.Status = StatusActive
	c.UpdatedAt = at

	a := &ExpertAssignment{
		ID:             m.id(),
		ConversationID: conversationID,
		ExpertID:       expertID,
		Status:         AssignmentActive,
		AssignedAt:     at,
	}
	m.assignments[a.ID] = a
	result := *a
	return &result, nil
}

// UnassignExpert returns a conversation held by expertID to the queue.
func (m *MockStore) UnassignExpert(ctx context.Context, conversationID, expertID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	if c.AssignedExpertID == nil || *c.AssignedExpertID != expertID {
		return ErrNotAssignee
	}

	at = at.UTC()
	c.AssignedExpertID = nil
	c.Status = StatusWaiting
	c.UpdatedAt = at
	m.resolveActiveAssignment(conversationID, expertID, at)
	return nil
}

// ResolveConversation marks an active conversation as resolved.
func (m *MockStore) ResolveConversation(ctx context.Context, conversationID, expertID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	if c.AssignedExpertID == nil || *c.AssignedExpertID != expertID {
		return ErrNotAssignee
	}
	if c.Status != StatusActive {
		return ErrInvalidState
	}

	at = at.UTC()
	c.Status = StatusResolved
	c.UpdatedAt = at
	m.resolveActiveAssignment(conversationID, expertID, at)
	return nil
}

func (m *MockStore) resolveActiveAssignment(conversationID, expertID int64, at time.Time) {
	for _, a := range m.assignments {
		if a.ConversationID == conversationID && a.ExpertID == expertID && a.Status == AssignmentActive {
			resolved := at
			a.Status = AssignmentResolved
			a.ResolvedAt = &resolved
		}
	}
}

// CreateMessage stores a message and touches the conversation timestamps.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.ID = m.id()

	stored := *msg
	m.messages[stored.ID] = &stored

	at := msg.CreatedAt.UTC()
	c.LastMessageAt = &at
	c.UpdatedAt = at
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *msg
	return &result, nil
}

// ListMessages returns a conversation's messages in chronological order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID int64) ([]*Message, error) {
	return m.filterMessages(func(msg *Message) bool { return msg.ConversationID == conversationID }), nil
}

// ListFirstMessages returns the oldest limit messages.
func (m *MockStore) ListFirstMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	msgs, _ := m.ListMessages(ctx, conversationID)
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// ListRecentMessages returns the newest limit messages in chronological order.
func (m *MockStore) ListRecentMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	msgs, _ := m.ListMessages(ctx, conversationID)
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// ListMessagesForUser returns messages from conversations the user is a party to.
func (m *MockStore) ListMessagesForUser(ctx context.Context, userID int64, since *time.Time) ([]*Message, error) {
	m.mu.RLock()
	parties := make(map[int64]bool)
	for id, c := range m.conversations {
		if c.IsParty(userID) {
			parties[id] = true
		}
	}
	m.mu.RUnlock()

	return m.filterMessages(func(msg *Message) bool {
		return parties[msg.ConversationID] && after(msg.CreatedAt, since)
	}), nil
}

// CountMessagesThrough counts the conversation's messages with id <= messageID.
func (m *MockStore) CountMessagesThrough(ctx context.Context, conversationID, messageID int64) (int, error) {
	msgs := m.filterMessages(func(msg *Message) bool {
		return msg.ConversationID == conversationID && msg.ID <= messageID
	})
	return len(msgs), nil
}

// CountUnread counts unread messages not sent by viewerID.
func (m *MockStore) CountUnread(ctx context.Context, conversationID, viewerID int64) (int, error) {
	msgs := m.filterMessages(func(msg *Message) bool {
		return msg.ConversationID == conversationID && msg.SenderID != viewerID && !msg.IsRead
	})
	return len(msgs), nil
}

// MarkMessageRead flips is_read and reports whether it changed.
func (m *MockStore) MarkMessageRead(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return false, ErrNotFound
	}
	if msg.IsRead {
		return false, nil
	}
	msg.IsRead = true
	return true, nil
}

// ListAssignmentsForExpert returns the expert's assignments, newest first.
func (m *MockStore) ListAssignmentsForExpert(ctx context.Context, expertID int64) ([]*ExpertAssignment, error) {
	out := m.filterAssignments(func(a *ExpertAssignment) bool { return a.ExpertID == expertID })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].AssignedAt.After(out[j].AssignedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// ListAssignmentsForConversation returns a conversation's assignments, oldest first.
func (m *MockStore) ListAssignmentsForConversation(ctx context.Context, conversationID int64) ([]*ExpertAssignment, error) {
	out := m.filterAssignments(func(a *ExpertAssignment) bool { return a.ConversationID == conversationID })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].AssignedAt.Before(out[j].AssignedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Ping reports ErrNotFound once the store is closed.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrNotFound
	}
	return nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockStore) filterConversations(keep func(*Conversation) bool) []*Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Conversation
	for _, c := range m.conversations {
		if keep(c) {
			out = append(out, copyConversation(c))
		}
	}
	return out
}

func (m *MockStore) filterMessages(keep func(*Message) bool) []*Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Message
	for _, msg := range m.messages {
		if keep(msg) {
			result := *msg
			out = append(out, &result)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MockStore) filterAssignments(keep func(*ExpertAssignment) bool) []*ExpertAssignment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ExpertAssignment
	for _, a := range m.assignments {
		if keep(a) {
			result := *a
			if a.ResolvedAt != nil {
				t := *a.ResolvedAt
				result.ResolvedAt = &t
			}
			out = append(out, &result)
		}
	}
	return out
}

func after(t time.Time, since *time.Time) bool {
	return since == nil || t.After(*since)
}

func copyConversation(c *Conversation) *Conversation {
	result := *c
	if c.AssignedExpertID != nil {
		id := *c.AssignedExpertID
		result.AssignedExpertID = &id
	}
	if c.Summary != nil {
		s := *c.Summary
		result.Summary = &s
	}
	if c.SummaryUpdatedAt != nil {
		t := *c.SummaryUpdatedAt
		result.SummaryUpdatedAt = &t
	}
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		result.LastMessageAt = &t
	}
	return &result
}

func copyProfile(p *ExpertProfile) *ExpertProfile {
	result := *p
	result.KnowledgeBaseLinks = append([]string{}, p.KnowledgeBaseLinks...)
	return &result
}

var _ Store = (*MockStore)(nil)
var _ Store = (*SQLStore)(nil)
