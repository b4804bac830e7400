// ABOUTME: Job handlers that load records and hand them to the automation components
// ABOUTME: Only datastore faults are returned; component failures resolve to no-ops

package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/helpdesk-gateway/internal/store"
)

// Router assigns a waiting conversation to an expert.
type Router interface {
	Route(ctx context.Context, conv *store.Conversation) (int64, bool)
}

// Responder posts an automatic answer to an initiator's first message.
type Responder interface {
	MaybeRespond(ctx context.Context, conv *store.Conversation, msg *store.Message) bool
}

// Summarizer refreshes a conversation's summary when one is due. messageID
// fixes the message-count milestone being checked; 0 checks only resolution.
type Summarizer interface {
	MaybeSummarize(ctx context.Context, conv *store.Conversation, messageID int64) bool
}

// Handlers binds job kinds to the automation components.
type Handlers struct {
	store      store.Store
	router     Router
	responder  Responder
	summarizer Summarizer
	logger     *slog.Logger
}

// NewHandlers creates the job handlers.
func NewHandlers(s store.Store, router Router, responder Responder, summarizer Summarizer, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:      s,
		router:     router,
		responder:  responder,
		summarizer: summarizer,
		logger:     logger.With("component", "job-handlers"),
	}
}

// Register installs every handler on the pool.
func (h *Handlers) Register(p *Pool) {
	p.Register(KindAssignExpert, h.AssignExpert)
	p.Register(KindFAQRespond, h.FAQRespond)
	p.Register(KindSummarize, h.Summarize)
}

// AssignExpert routes the conversation if it is still waiting.
func (h *Handlers) AssignExpert(ctx context.Context, job Job) error {
	conv, err := h.store.GetConversation(ctx, job.ConversationID)
	if err != nil {
		return fmt.Errorf("loading conversation %d: %w", job.ConversationID, err)
	}
	if conv.Status != store.StatusWaiting {
		h.logger.Debug("conversation no longer waiting", "conversation_id", conv.ID, "status", conv.Status)
		return nil
	}
	h.router.Route(ctx, conv)
	return nil
}

// FAQRespond offers an automatic answer to the job's message.
func (h *Handlers) FAQRespond(ctx context.Context, job Job) error {
	conv, err := h.store.GetConversation(ctx, job.ConversationID)
	if err != nil {
		return fmt.Errorf("loading conversation %d: %w", job.ConversationID, err)
	}
	msg, err := h.store.GetMessage(ctx, job.MessageID)
	if err != nil {
		return fmt.Errorf("loading message %d: %w", job.MessageID, err)
	}
	h.responder.MaybeRespond(ctx, conv, msg)
	return nil
}

// Summarize refreshes the conversation summary for the job's message.
func (h *Handlers) Summarize(ctx context.Context, job Job) error {
	conv, err := h.store.GetConversation(ctx, job.ConversationID)
	if err != nil {
		return fmt.Errorf("loading conversation %d: %w", job.ConversationID, err)
	}
	h.summarizer.MaybeSummarize(ctx, conv, job.MessageID)
	return nil
}
