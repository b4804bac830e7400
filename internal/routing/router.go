// ABOUTME: Expert router: asks the LLM which eligible expert fits a new conversation
// ABOUTME: Every failure leaves the conversation waiting; Route never returns an error

package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/2389/helpdesk-gateway/internal/cache"
	"github.com/2389/helpdesk-gateway/internal/llm"
	"github.com/2389/helpdesk-gateway/internal/metrics"
	"github.com/2389/helpdesk-gateway/internal/store"
)

const systemPrompt = `You are an expert router. Your job is to look at a user's question and a list of experts
(each with an id, username, and bio) and pick the best expert to answer the question.

If one or more experts are a good match, respond with ONLY the integer expert_id (for example: 12).
If NONE of the experts are a good match for the question, respond with ONLY the word: NONE

Do not include any other text in your response.`

// Router outcomes recorded in helpdesk_auto_assignments_total.
const (
	outcomeAssigned = "assigned"
	outcomeNoMatch  = "no_match"
	outcomeSkipped  = "skipped"
	outcomeConflict = "conflict"
	outcomeError    = "error"
)

var digits = regexp.MustCompile(`\d+`)

// Router assigns new conversations to experts.
type Router struct {
	store  store.Store
	cache  cache.Cache
	llm    llm.Completer
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Router.
func New(s store.Store, c cache.Cache, completer llm.Completer, logger *slog.Logger) *Router {
	return &Router{
		store:  s,
		cache:  c,
		llm:    completer,
		logger: logger.With("component", "router"),
		now:    time.Now,
	}
}

// EligibleExperts returns the cached list of users with a non-blank bio.
func EligibleExperts(ctx context.Context, s store.Store, c cache.Cache) ([]*store.EligibleExpert, error) {
	return cache.FetchJSON(ctx, c, cache.EligibleExpertsKey, cache.EligibleExpertsTTL,
		func(ctx context.Context) ([]*store.EligibleExpert, error) {
			return s.ListEligibleExperts(ctx)
		})
}

// Route picks an expert for conv and assigns it. It reports the assigned
// expert, or false when the conversation stays waiting.
func (r *Router) Route(ctx context.Context, conv *store.Conversation) (int64, bool) {
	logger := r.logger.With("conversation_id", conv.ID)

	experts, err := EligibleExperts(ctx, r.store, r.cache)
	if err != nil {
		logger.Warn("loading eligible experts failed", "error", err)
		metrics.RecordAutoAssignment(outcomeError)
		return 0, false
	}

	question := strings.TrimSpace(conv.Title)
	if len(experts) == 0 || question == "" {
		logger.Debug("routing skipped", "experts", len(experts), "blank_title", question == "")
		metrics.RecordAutoAssignment(outcomeSkipped)
		return 0, false
	}

	reply, err := r.llm.Complete(ctx, systemPrompt, buildUserPrompt(question, experts))
	if err != nil {
		logger.Warn("router completion failed", "error", err)
		metrics.RecordAutoAssignment(outcomeError)
		return 0, false
	}

	expertID, ok := parseExpertID(reply, experts)
	if !ok {
		logger.Info("no matching expert", "reply", truncate(reply, 80))
		metrics.RecordAutoAssignment(outcomeNoMatch)
		return 0, false
	}

	if _, err := r.store.AssignExpert(ctx, conv.ID, expertID, r.now().UTC()); err != nil {
		if errors.Is(err, store.ErrAlreadyAssigned) {
			logger.Info("conversation already assigned", "expert_id", expertID)
			metrics.RecordAutoAssignment(outcomeConflict)
		} else {
			logger.Warn("assigning expert failed", "expert_id", expertID, "error", err)
			metrics.RecordAutoAssignment(outcomeError)
		}
		return 0, false
	}

	cache.InvalidateAll(ctx, r.cache, logger,
		cache.ConversationsKey(conv.InitiatorID),
		cache.ConversationsKey(expertID),
		cache.AssignmentHistoryKey(expertID),
	)

	logger.Info("auto-assigned expert", "expert_id", expertID)
	metrics.RecordAutoAssignment(outcomeAssigned)
	return expertID, true
}

func buildUserPrompt(question string, experts []*store.EligibleExpert) string {
	var b strings.Builder
	b.WriteString("Question:\n")
	b.WriteString(question)
	b.WriteString("\n\nExperts (with bios and knowledge base links):\n")

	for _, e := range experts {
		bio := strings.Join(strings.Fields(e.Bio), " ")
		links := "none"
		if kept := nonBlank(e.KnowledgeBaseLinks); len(kept) > 0 {
			links = strings.Join(kept, ", ")
		}
		fmt.Fprintf(&b, "ID=%d USERNAME=%s BIO=\"%s\" KNOWLEDGE_BASE_LINKS=\"%s\"\n", e.UserID, e.Username, bio, links)
	}

	b.WriteString("\nBased on BOTH the bios and the knowledge base links, which expert_id is the best match for this question?\n")
	b.WriteString("If none of these experts are a good match, respond with: NONE")
	return b.String()
}

// parseExpertID takes the first integer in reply and accepts it only if it
// names one of the eligible experts.
func parseExpertID(reply string, experts []*store.EligibleExpert) (int64, bool) {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" || strings.EqualFold(trimmed, "NONE") {
		return 0, false
	}

	match := digits.FindString(trimmed)
	if match == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(match, 10, 64)
	if err != nil {
		return 0, false
	}

	for _, e := range experts {
		if e.UserID == id {
			return id, true
		}
	}
	return 0, false
}

func nonBlank(links []string) []string {
	var out []string
	for _, l := range links {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// truncate keeps the first n runes so a log line never splits a character.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
