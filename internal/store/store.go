// ABOUTME: Store interface and data types for helpdesk-gateway persistence
// ABOUTME: Defines users, expert profiles, conversations, messages and expert assignments

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique constraint would be violated
var ErrDuplicate = errors.New("already exists")

// ErrAlreadyAssigned is returned when a claim or auto-assignment loses the race
// for a conversation that is no longer waiting.
var ErrAlreadyAssigned = errors.New("conversation is already assigned to an expert")

// ErrNotAssignee is returned when an expert acts on a conversation assigned to someone else.
var ErrNotAssignee = errors.New("not assigned to this conversation")

// ErrInvalidState is returned when a transition is not allowed from the conversation's current status.
var ErrInvalidState = errors.New("invalid conversation state")

// ConversationStatus is the lifecycle state of a conversation
type ConversationStatus string

const (
	StatusWaiting  ConversationStatus = "waiting"
	StatusActive   ConversationStatus = "active"
	StatusResolved ConversationStatus = "resolved"
)

// SenderRole records how a message sender relates to the conversation
type SenderRole string

const (
	RoleInitiator SenderRole = "initiator"
	RoleExpert    SenderRole = "expert"
)

// AssignmentStatus is the state of an expert assignment record
type AssignmentStatus string

const (
	AssignmentActive   AssignmentStatus = "active"
	AssignmentResolved AssignmentStatus = "resolved"
)

// User is a registered account. Every user has an expert profile.
type User struct {
	ID        int64
	Username  string
	CreatedAt time.Time
}

// ExpertProfile describes what an expert knows. Bio may be empty; links are never nil.
type ExpertProfile struct {
	ID                 int64
	UserID             int64
	Bio                string
	KnowledgeBaseLinks []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// EligibleExpert is a user whose profile bio is non-empty.
// It is cached, so it carries JSON tags.
type EligibleExpert struct {
	UserID             int64    `json:"user_id"`
	Username           string   `json:"username"`
	Bio                string   `json:"bio"`
	KnowledgeBaseLinks []string `json:"knowledge_base_links"`
}

// Conversation is a support question and its lifecycle.
// Status is waiting exactly when AssignedExpertID is nil.
type Conversation struct {
	ID               int64
	Title            string
	Status           ConversationStatus
	InitiatorID      int64
	AssignedExpertID *int64
	Summary          *string
	SummaryUpdatedAt *time.Time
	LastMessageAt    *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsParty reports whether the user is the initiator or the assigned expert.
func (c *Conversation) IsParty(userID int64) bool {
	if c.InitiatorID == userID {
		return true
	}
	return c.AssignedExpertID != nil && *c.AssignedExpertID == userID
}

// Message is a single chat line within a conversation
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	SenderRole     SenderRole
	Content        string
	IsRead         bool
	CreatedAt      time.Time
}

// ExpertAssignment records one claim cycle of an expert on a conversation
type ExpertAssignment struct {
	ID             int64
	ConversationID int64
	ExpertID       int64
	Status         AssignmentStatus
	AssignedAt     time.Time
	ResolvedAt     *time.Time
}

// Store defines the interface for help desk persistence
type Store interface {
	// Users. CreateUser also creates the user's empty expert profile.
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)

	// Expert profiles
	GetExpertProfile(ctx context.Context, userID int64) (*ExpertProfile, error)
	UpdateExpertProfile(ctx context.Context, profile *ExpertProfile) error
	ListEligibleExperts(ctx context.Context) ([]*EligibleExpert, error)

	// Conversations. A nil since means no lower bound.
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	ListConversationsForUser(ctx context.Context, userID int64, since *time.Time) ([]*Conversation, error)
	ListWaitingConversations(ctx context.Context, since *time.Time) ([]*Conversation, error)
	ListActiveConversationsForExpert(ctx context.Context, expertID int64, since *time.Time) ([]*Conversation, error)
	UpdateSummary(ctx context.Context, conversationID int64, summary string, at time.Time) error

	// Assignment transitions. Each is a compare-and-set applied together with
	// its ExpertAssignment row.
	AssignExpert(ctx context.Context, conversationID, expertID int64, at time.Time) (*ExpertAssignment, error)
	UnassignExpert(ctx context.Context, conversationID, expertID int64, at time.Time) error
	ResolveConversation(ctx context.Context, conversationID, expertID int64, at time.Time) error

	// Messages. CreateMessage touches the conversation's last_message_at.
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id int64) (*Message, error)
	ListMessages(ctx context.Context, conversationID int64) ([]*Message, error)
	ListFirstMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error)
	ListRecentMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error)
	ListMessagesForUser(ctx context.Context, userID int64, since *time.Time) ([]*Message, error)
	// CountMessagesThrough is the ordinal of messageID within its conversation.
	CountMessagesThrough(ctx context.Context, conversationID, messageID int64) (int, error)
	CountUnread(ctx context.Context, conversationID, viewerID int64) (int, error)
	MarkMessageRead(ctx context.Context, id int64) (bool, error)

	// Assignment history
	ListAssignmentsForExpert(ctx context.Context, expertID int64) ([]*ExpertAssignment, error)
	ListAssignmentsForConversation(ctx context.Context, conversationID int64) ([]*ExpertAssignment, error)

	// Ping checks the database connection
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
