// ABOUTME: FAQ auto-responder: answers a conversation's first message from the
// ABOUTME: assigned expert's knowledge base links, or stays silent

package faq

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/2389/helpdesk-gateway/internal/cache"
	"github.com/2389/helpdesk-gateway/internal/fetch"
	"github.com/2389/helpdesk-gateway/internal/llm"
	"github.com/2389/helpdesk-gateway/internal/store"
)

// Unable is the sentinel the model replies with when the material does not cover the question.
const Unable = "UNABLE"

// maxParallelFetches bounds concurrent link fetches per expert.
const maxParallelFetches = 4

var errNoContent = errors.New("no knowledge base content could be fetched")

// Fetcher retrieves one knowledge base link.
type Fetcher interface {
	Get(ctx context.Context, url string) (*fetch.Result, error)
}

// MessageWriter persists the bot reply through the normal message write path.
type MessageWriter interface {
	PostMessage(ctx context.Context, senderID, conversationID int64, content string) (*store.Message, error)
}

// Content is the cached, compressed knowledge base of one link set.
type Content struct {
	Content string   `json:"content"`
	URLs    []string `json:"urls"`
}

// Responder decides whether to post a bot answer to a first message.
type Responder struct {
	store   store.Store
	cache   cache.Cache
	llm     llm.Completer
	fetcher Fetcher
	writer  MessageWriter
	logger  *slog.Logger
}

// New creates a Responder.
func New(s store.Store, c cache.Cache, completer llm.Completer, fetcher Fetcher, writer MessageWriter, logger *slog.Logger) *Responder {
	return &Responder{
		store:   s,
		cache:   c,
		llm:     completer,
		fetcher: fetcher,
		writer:  writer,
		logger:  logger.With("component", "faq"),
	}
}

// SetWriter replaces the message writer. The gateway wires the helpdesk
// service here after both are constructed.
func (r *Responder) SetWriter(w MessageWriter) {
	r.writer = w
}

// MaybeRespond posts a bot answer when msg is the initiator's first message in
// a conversation whose assigned expert has knowledge base links. It reports
// whether a reply was posted. All failures are logged and swallowed.
func (r *Responder) MaybeRespond(ctx context.Context, conv *store.Conversation, msg *store.Message) bool {
	logger := r.logger.With("conversation_id", conv.ID, "message_id", msg.ID)

	expert, links, ok := r.shouldTrigger(ctx, logger, conv, msg)
	if !ok {
		return false
	}

	content, err := r.loadContent(ctx, logger, expert.ID, links)
	if err != nil {
		logger.Warn("faq content unavailable", "expert_id", expert.ID, "error", err)
		return false
	}

	answer, err := r.llm.Complete(ctx, answerSystemPrompt, buildAnswerPrompt(content.Content, conv.Title, msg.Content))
	if err != nil {
		logger.Warn("faq answer failed", "error", err)
		return false
	}
	answer = strings.TrimSpace(answer)
	if answer == "" || unableToAnswer(answer) {
		logger.Info("faq bot could not answer")
		return false
	}

	body := buildBotMessage(expert.Username, answer, content.URLs)
	if _, err := r.writer.PostMessage(ctx, expert.ID, conv.ID, body); err != nil {
		logger.Warn("posting faq reply failed", "error", err)
		return false
	}

	logger.Info("faq bot replied", "expert_id", expert.ID, "sources", len(content.URLs))
	return true
}

func (r *Responder) shouldTrigger(ctx context.Context, logger *slog.Logger, conv *store.Conversation, msg *store.Message) (*store.User, []string, bool) {
	if msg.SenderID != conv.InitiatorID || conv.AssignedExpertID == nil {
		return nil, nil, false
	}

	// Position of msg, not the current count: a quick follow-up must not
	// hide the opening question from a job that runs late.
	count, err := r.store.CountMessagesThrough(ctx, conv.ID, msg.ID)
	if err != nil {
		logger.Warn("counting messages failed", "error", err)
		return nil, nil, false
	}
	if count != 1 {
		return nil, nil, false
	}

	expertID := *conv.AssignedExpertID
	profile, err := r.store.GetExpertProfile(ctx, expertID)
	if err != nil {
		logger.Warn("loading expert profile failed", "expert_id", expertID, "error", err)
		return nil, nil, false
	}
	links := nonBlank(profile.KnowledgeBaseLinks)
	if len(links) == 0 {
		return nil, nil, false
	}

	expert, err := r.store.GetUser(ctx, expertID)
	if err != nil {
		logger.Warn("loading expert failed", "expert_id", expertID, "error", err)
		return nil, nil, false
	}
	return expert, links, true
}

// loadContent returns the compressed knowledge base for links, from cache when possible.
func (r *Responder) loadContent(ctx context.Context, logger *slog.Logger, expertID int64, links []string) (Content, error) {
	key := cache.FAQContentKey(expertID, Fingerprint(links))
	return cache.FetchJSON(ctx, r.cache, key, cache.FAQContentTTL, func(ctx context.Context) (Content, error) {
		raw, urls := r.fetchAll(ctx, logger, links)
		if len(urls) == 0 {
			return Content{}, errNoContent
		}

		summary, err := r.llm.Complete(ctx, compressSystemPrompt, buildCompressPrompt(raw))
		summary = strings.TrimSpace(summary)
		if err != nil || summary == "" {
			logger.Warn("compressing faq content failed, caching raw text", "error", err)
			summary = raw
		}
		return Content{Content: summary, URLs: urls}, nil
	})
}

// fetchAll fetches links concurrently and joins the successful bodies in link order.
func (r *Responder) fetchAll(ctx context.Context, logger *slog.Logger, links []string) (string, []string) {
	chunks := make([]string, len(links))

	var g errgroup.Group
	g.SetLimit(maxParallelFetches)
	for i, link := range links {
		g.Go(func() error {
			res, err := r.fetcher.Get(ctx, link)
			if err != nil {
				logger.Warn("fetching knowledge base link failed", "url", link, "error", err)
				return nil
			}
			text := res.Text()
			if text == "" {
				logger.Warn("knowledge base link has no text", "url", link)
				return nil
			}
			chunks[i] = fmt.Sprintf("=== Content from %s ===\n%s\n", link, text)
			return nil
		})
	}
	_ = g.Wait()

	var parts, urls []string
	for i, chunk := range chunks {
		if chunk == "" {
			continue
		}
		parts = append(parts, chunk)
		urls = append(urls, links[i])
	}
	return strings.Join(parts, "\n\n"), urls
}

// Fingerprint is the first 16 hex characters of the sha256 of the links joined by newlines.
func Fingerprint(links []string) string {
	sum := sha256.Sum256([]byte(strings.Join(links, "\n")))
	return hex.EncodeToString(sum[:])[:16]
}

func unableToAnswer(answer string) bool {
	lower := strings.ToLower(answer)
	return strings.EqualFold(answer, Unable) ||
		strings.Contains(answer, Unable) ||
		strings.Contains(lower, "i cannot") ||
		strings.Contains(lower, "i can't")
}

func buildBotMessage(expertName, answer string, urls []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🤖 Hey! I'm a bot here to help you with some resources from %s's knowledge base.\n\n", expertName)
	b.WriteString(answer)

	if len(urls) > 0 {
		b.WriteString("\n\n📚 For more info, check out ")
		if len(urls) == 1 {
			b.WriteString("this resource: " + urls[0])
		} else {
			b.WriteString("these resources:\n")
			for _, u := range urls {
				b.WriteString("• " + u + "\n")
			}
		}
	}

	fmt.Fprintf(&b, "\n\nFeel free to keep chatting with %s if you need more help!", expertName)
	return b.String()
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
