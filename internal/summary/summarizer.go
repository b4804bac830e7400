// ABOUTME: Progressive conversation summarizer keyed on message count and resolution
// ABOUTME: Initial at 3 messages, incremental at 8, 13, 18..., and once after resolution

package summary

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/helpdesk-gateway/internal/cache"
	"github.com/2389/helpdesk-gateway/internal/llm"
	"github.com/2389/helpdesk-gateway/internal/store"
)

// Branch names which summary, if any, a conversation is due for.
type Branch string

const (
	BranchNone        Branch = ""
	BranchInitial     Branch = "initial"
	BranchIncremental Branch = "incremental"
	BranchResolution  Branch = "resolution"
)

const (
	initialWindow     = 10
	incrementalWindow = 5
	resolutionWindow  = 15
)

var errEmptySummary = errors.New("llm returned an empty summary")

// Summarizer keeps Conversation.Summary current.
type Summarizer struct {
	store  store.Store
	cache  cache.Cache
	llm    llm.Completer
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Summarizer.
func New(s store.Store, c cache.Cache, completer llm.Completer, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		store:  s,
		cache:  c,
		llm:    completer,
		logger: logger.With("component", "summarizer"),
		now:    time.Now,
	}
}

// Due picks the branch for the n-th message of a conversation, written at at.
// An incremental update is skipped when the stored summary was written after
// that message, since it already reflects it.
func Due(conv *store.Conversation, n int, at time.Time) Branch {
	if n == 3 && (conv.Summary == nil || strings.TrimSpace(*conv.Summary) == "") {
		return BranchInitial
	}
	if n >= 8 && (n-3)%5 == 0 && !summarizedSince(conv, at) {
		return BranchIncremental
	}
	if conv.Status == store.StatusResolved &&
		(conv.SummaryUpdatedAt == nil || conv.SummaryUpdatedAt.Before(conv.UpdatedAt)) {
		return BranchResolution
	}
	return BranchNone
}

func summarizedSince(conv *store.Conversation, at time.Time) bool {
	return conv.SummaryUpdatedAt != nil && !conv.SummaryUpdatedAt.Before(at)
}

// MaybeSummarize runs the due branch for the stored state of conv, if any, and
// reports whether the summary was updated. The message-count milestone is the
// position of messageID in the conversation, not the count when the job runs,
// so a burst of messages cannot skip past a milestone. With messageID 0 only
// the resolution branch can fire.
// Failures are logged and leave the summary unchanged.
func (s *Summarizer) MaybeSummarize(ctx context.Context, conv *store.Conversation, messageID int64) bool {
	logger := s.logger.With("conversation_id", conv.ID, "message_id", messageID)

	// Decide on current state; the caller's copy may predate earlier summaries.
	conv, err := s.store.GetConversation(ctx, conv.ID)
	if err != nil {
		logger.Warn("loading conversation failed", "error", err)
		return false
	}

	var (
		n  int
		at time.Time
	)
	if messageID != 0 {
		msg, err := s.store.GetMessage(ctx, messageID)
		if err != nil {
			logger.Warn("loading message failed", "error", err)
			return false
		}
		n, err = s.store.CountMessagesThrough(ctx, conv.ID, messageID)
		if err != nil {
			logger.Warn("counting messages failed", "error", err)
			return false
		}
		at = msg.CreatedAt
	}

	branch := Due(conv, n, at)
	if branch == BranchNone {
		return false
	}

	text, err := s.generate(ctx, conv, branch)
	if err != nil {
		logger.Warn("summary generation failed", "branch", branch, "error", err)
		return false
	}

	if err := s.store.UpdateSummary(ctx, conv.ID, text, s.now().UTC()); err != nil {
		logger.Warn("saving summary failed", "branch", branch, "error", err)
		return false
	}

	keys := []string{cache.ConversationsKey(conv.InitiatorID)}
	if conv.AssignedExpertID != nil {
		keys = append(keys, cache.ConversationsKey(*conv.AssignedExpertID))
	}
	cache.InvalidateAll(ctx, s.cache, logger, keys...)

	logger.Info("summary updated", "branch", branch, "messages", n)
	return true
}

func (s *Summarizer) generate(ctx context.Context, conv *store.Conversation, branch Branch) (string, error) {
	var system, user string

	switch branch {
	case BranchInitial:
		msgs, err := s.store.ListFirstMessages(ctx, conv.ID, initialWindow)
		if err != nil {
			return "", err
		}
		system = initialSystemPrompt
		user = buildMessagesPrompt(conv, msgs, "Provide a brief summary of what this conversation is about.")

	case BranchIncremental:
		msgs, err := s.store.ListRecentMessages(ctx, conv.ID, incrementalWindow)
		if err != nil {
			return "", err
		}
		previous := ""
		if conv.Summary != nil {
			previous = *conv.Summary
		}
		system = incrementalSystemPrompt
		user = buildIncrementalPrompt(conv, previous, msgs)

	case BranchResolution:
		msgs, err := s.store.ListRecentMessages(ctx, conv.ID, resolutionWindow)
		if err != nil {
			return "", err
		}
		system = resolutionSystemPrompt
		user = buildMessagesPrompt(conv, msgs, "Summarize both the problem and its resolution.")
	}

	out, err := s.llm.Complete(ctx, system, user)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errEmptySummary
	}
	return out, nil
}
