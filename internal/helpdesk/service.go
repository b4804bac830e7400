// ABOUTME: Service implements the help desk operations behind the HTTP API
// ABOUTME: Writes commit, invalidate affected cache keys, then enqueue automation jobs

package helpdesk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/helpdesk-gateway/internal/cache"
	"github.com/2389/helpdesk-gateway/internal/jobs"
	"github.com/2389/helpdesk-gateway/internal/store"
)

// Notifier wakes live update streams. Notify targets specific users;
// NotifyExperts targets everyone watching the waiting queue.
type Notifier interface {
	Notify(userIDs ...int64)
	NotifyExperts()
}

type nopNotifier struct{}

func (nopNotifier) Notify(...int64) {}
func (nopNotifier) NotifyExperts()  {}

// Service is the help desk application layer.
type Service struct {
	store    store.Store
	cache    cache.Cache
	router   jobs.Router
	jobs     jobs.Enqueuer
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Service. A nil notifier disables stream wakeups.
func New(s store.Store, c cache.Cache, router jobs.Router, enqueuer jobs.Enqueuer, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Service{
		store:    s,
		cache:    c,
		router:   router,
		jobs:     enqueuer,
		notifier: notifier,
		logger:   logger.With("component", "helpdesk"),
		now:      time.Now,
	}
}

// ListConversations returns the user's conversations, most recently updated first.
func (s *Service) ListConversations(ctx context.Context, userID int64) ([]ConversationPayload, error) {
	return cache.FetchJSON(ctx, s.cache, cache.ConversationsKey(userID), cache.ConversationsTTL,
		func(ctx context.Context) ([]ConversationPayload, error) {
			s.logger.Debug("cache miss", "key", cache.ConversationsKey(userID))
			convs, err := s.store.ListConversationsForUser(ctx, userID, nil)
			if err != nil {
				return nil, fmt.Errorf("listing conversations: %w", err)
			}
			return NewRenderer(s.store).Conversations(ctx, convs, userID)
		})
}

// GetConversation returns one conversation. Users who are not a party get store.ErrNotFound.
func (s *Service) GetConversation(ctx context.Context, userID, conversationID int64) (ConversationPayload, error) {
	conv, err := s.partyConversation(ctx, userID, conversationID)
	if err != nil {
		return ConversationPayload{}, err
	}
	return NewRenderer(s.store).Conversation(ctx, conv, userID)
}

// CreateConversation opens a conversation, tries to route it right away, and
// queues an assignment job for anything still waiting.
func (s *Service) CreateConversation(ctx context.Context, userID int64, title string) (ConversationPayload, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return ConversationPayload{}, fmt.Errorf("%w: title can't be blank", ErrInvalidInput)
	}

	now := s.now().UTC()
	conv := &store.Conversation{
		Title:       title,
		InitiatorID: userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return ConversationPayload{}, fmt.Errorf("creating conversation: %w", err)
	}
	s.logger.Info("conversation created", "conversation_id", conv.ID, "initiator_id", userID)

	s.router.Route(ctx, conv)
	s.jobs.Enqueue(jobs.AssignExpert(conv.ID))

	// Routing may have changed the row.
	fresh, err := s.store.GetConversation(ctx, conv.ID)
	if err != nil {
		return ConversationPayload{}, fmt.Errorf("reloading conversation: %w", err)
	}

	cache.InvalidateAll(ctx, s.cache, s.logger, s.conversationKeys(fresh)...)
	s.notifier.Notify(s.parties(fresh)...)
	s.notifier.NotifyExperts()

	return NewRenderer(s.store).Conversation(ctx, fresh, userID)
}

// ListMessages returns a conversation's messages, oldest first. Any signed-in
// user may read them, so experts can inspect the queue before claiming.
func (s *Service) ListMessages(ctx context.Context, conversationID int64) ([]MessagePayload, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return cache.FetchJSON(ctx, s.cache, cache.MessagesKey(conversationID), cache.MessagesTTL,
		func(ctx context.Context) ([]MessagePayload, error) {
			s.logger.Debug("cache miss", "key", cache.MessagesKey(conversationID))
			msgs, err := s.store.ListMessages(ctx, conversationID)
			if err != nil {
				return nil, fmt.Errorf("listing messages: %w", err)
			}
			return NewRenderer(s.store).Messages(ctx, msgs)
		})
}

// PostMessage stores a message from a party to the conversation. The sender's
// role follows from their relationship to it. Non-parties get store.ErrNotFound.
func (s *Service) PostMessage(ctx context.Context, senderID, conversationID int64, content string) (*store.Message, error) {
	conv, err := s.partyConversation(ctx, senderID, conversationID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: content can't be blank", ErrInvalidInput)
	}

	role := store.RoleExpert
	if conv.InitiatorID == senderID {
		role = store.RoleInitiator
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		SenderRole:     role,
		Content:        content,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	keys := append(s.conversationKeys(conv), cache.MessagesKey(conv.ID))
	cache.InvalidateAll(ctx, s.cache, s.logger, keys...)
	s.notifier.Notify(s.parties(conv)...)

	s.jobs.Enqueue(jobs.FAQRespond(conv.ID, msg.ID))
	s.jobs.Enqueue(jobs.Summarize(conv.ID, msg.ID))

	s.logger.Debug("message posted", "conversation_id", conv.ID, "message_id", msg.ID, "role", role)
	return msg, nil
}

// SendMessage posts a message and renders it.
func (s *Service) SendMessage(ctx context.Context, senderID, conversationID int64, content string) (MessagePayload, error) {
	msg, err := s.PostMessage(ctx, senderID, conversationID, content)
	if err != nil {
		return MessagePayload{}, err
	}
	return NewRenderer(s.store).Message(ctx, msg)
}

// MarkRead marks a message read on behalf of a party who did not send it.
// It is idempotent.
func (s *Service) MarkRead(ctx context.Context, userID, messageID int64) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	conv, err := s.partyConversation(ctx, userID, msg.ConversationID)
	if err != nil {
		return err
	}
	if msg.SenderID == userID {
		return fmt.Errorf("%w: cannot mark your own messages as read", ErrForbidden)
	}

	changed, err := s.store.MarkMessageRead(ctx, messageID)
	if err != nil {
		return fmt.Errorf("marking message read: %w", err)
	}
	if changed {
		keys := append(s.conversationKeys(conv), cache.MessagesKey(conv.ID))
		cache.InvalidateAll(ctx, s.cache, s.logger, keys...)
	}
	return nil
}

// RequireExpert returns ErrNotExpert unless the user has an expert profile.
func (s *Service) RequireExpert(ctx context.Context, userID int64) error {
	_, err := s.store.GetExpertProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotExpert
	}
	if err != nil {
		return fmt.Errorf("loading expert profile: %w", err)
	}
	return nil
}

// Queue returns the waiting queue, oldest first, and the expert's active
// conversations, most recent message first.
func (s *Service) Queue(ctx context.Context, expertID int64) (QueuePayload, error) {
	waiting, err := s.store.ListWaitingConversations(ctx, nil)
	if err != nil {
		return QueuePayload{}, fmt.Errorf("listing waiting conversations: %w", err)
	}
	assigned, err := s.store.ListActiveConversationsForExpert(ctx, expertID, nil)
	if err != nil {
		return QueuePayload{}, fmt.Errorf("listing assigned conversations: %w", err)
	}
	return RenderQueue(ctx, NewRenderer(s.store), waiting, assigned, expertID)
}

// RenderQueue renders both halves of an expert queue.
func RenderQueue(ctx context.Context, r *Renderer, waiting, assigned []*store.Conversation, expertID int64) (QueuePayload, error) {
	w, err := r.Conversations(ctx, waiting, expertID)
	if err != nil {
		return QueuePayload{}, err
	}
	a, err := r.Conversations(ctx, assigned, expertID)
	if err != nil {
		return QueuePayload{}, err
	}
	return QueuePayload{WaitingConversations: w, AssignedConversations: a}, nil
}

// Claim assigns a waiting conversation to the expert. A conversation that is
// already assigned yields store.ErrAlreadyAssigned.
func (s *Service) Claim(ctx context.Context, expertID, conversationID int64) error {
	if _, err := s.store.AssignExpert(ctx, conversationID, expertID, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("conversation claimed", "conversation_id", conversationID, "expert_id", expertID)
	return s.afterAssignmentChange(ctx, conversationID, expertID)
}

// Unclaim returns the expert's conversation to the waiting queue and closes
// their assignment.
func (s *Service) Unclaim(ctx context.Context, expertID, conversationID int64) error {
	if err := s.store.UnassignExpert(ctx, conversationID, expertID, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("conversation unclaimed", "conversation_id", conversationID, "expert_id", expertID)
	return s.afterAssignmentChange(ctx, conversationID, expertID)
}

// Resolve marks the expert's active conversation resolved and queues the
// resolution summary.
func (s *Service) Resolve(ctx context.Context, expertID, conversationID int64) error {
	if err := s.store.ResolveConversation(ctx, conversationID, expertID, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("conversation resolved", "conversation_id", conversationID, "expert_id", expertID)
	if err := s.afterAssignmentChange(ctx, conversationID, expertID); err != nil {
		return err
	}
	s.jobs.Enqueue(jobs.Summarize(conversationID, 0))
	return nil
}

func (s *Service) afterAssignmentChange(ctx context.Context, conversationID, expertID int64) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("reloading conversation: %w", err)
	}
	keys := append(s.conversationKeys(conv),
		cache.ConversationsKey(expertID),
		cache.AssignmentHistoryKey(expertID),
	)
	cache.InvalidateAll(ctx, s.cache, s.logger, keys...)
	s.notifier.Notify(conv.InitiatorID, expertID)
	s.notifier.NotifyExperts()
	return nil
}

// Profile returns the user's expert profile.
func (s *Service) Profile(ctx context.Context, userID int64) (ProfilePayload, error) {
	p, err := s.store.GetExpertProfile(ctx, userID)
	if err != nil {
		return ProfilePayload{}, err
	}
	return Profile(p), nil
}

// UpdateProfile replaces the user's bio and links. Eligibility for routing
// may change, so the cached eligible expert list is dropped.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, bio string, links []string) (ProfilePayload, error) {
	if links == nil {
		links = []string{}
	}
	p := &store.ExpertProfile{
		UserID:             userID,
		Bio:                bio,
		KnowledgeBaseLinks: links,
		UpdatedAt:          s.now().UTC(),
	}
	if err := s.store.UpdateExpertProfile(ctx, p); err != nil {
		return ProfilePayload{}, err
	}
	cache.InvalidateAll(ctx, s.cache, s.logger, cache.EligibleExpertsKey)
	s.logger.Info("expert profile updated", "user_id", userID, "links", len(links))
	return s.Profile(ctx, userID)
}

// AssignmentHistory returns the expert's assignments, newest first.
func (s *Service) AssignmentHistory(ctx context.Context, expertID int64) ([]AssignmentPayload, error) {
	return cache.FetchJSON(ctx, s.cache, cache.AssignmentHistoryKey(expertID), cache.AssignmentHistoryTTL,
		func(ctx context.Context) ([]AssignmentPayload, error) {
			s.logger.Debug("cache miss", "key", cache.AssignmentHistoryKey(expertID))
			history, err := s.store.ListAssignmentsForExpert(ctx, expertID)
			if err != nil {
				return nil, fmt.Errorf("listing assignments: %w", err)
			}
			out := make([]AssignmentPayload, 0, len(history))
			for _, a := range history {
				out = append(out, Assignment(a))
			}
			return out, nil
		})
}

// partyConversation loads a conversation the user takes part in, or store.ErrNotFound.
func (s *Service) partyConversation(ctx context.Context, userID, conversationID int64) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParty(userID) {
		return nil, store.ErrNotFound
	}
	return conv, nil
}

func (s *Service) parties(conv *store.Conversation) []int64 {
	ids := []int64{conv.InitiatorID}
	if conv.AssignedExpertID != nil {
		ids = append(ids, *conv.AssignedExpertID)
	}
	return ids
}

func (s *Service) conversationKeys(conv *store.Conversation) []string {
	keys := make([]string, 0, 3)
	for _, id := range s.parties(conv) {
		keys = append(keys, cache.ConversationsKey(id))
	}
	return keys
}
