// ABOUTME: Tests for the FAQ auto-responder trigger rules, content caching and bot message format
// ABOUTME: Fetches and completions are scripted; messages land in a MockStore

package faq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/helpdesk-gateway/internal/cache"
	"github.com/2389/helpdesk-gateway/internal/fetch"
	"github.com/2389/helpdesk-gateway/internal/llm"
	"github.com/2389/helpdesk-gateway/internal/store"
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls int
}

func (f *fakeFetcher) Get(ctx context.Context, url string) (*fetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	body, ok := f.pages[url]
	if !ok {
		return nil, &fetch.Error{Kind: fetch.KindStatus, URL: url, StatusCode: 404}
	}
	return &fetch.Result{URL: url, FinalURL: url, StatusCode: 200, ContentType: "text/plain", Body: []byte(body)}, nil
}

type storeWriter struct {
	store *store.MockStore
}

func (w storeWriter) PostMessage(ctx context.Context, senderID, conversationID int64, content string) (*store.Message, error) {
	msg := &store.Message{ConversationID: conversationID, SenderID: senderID, SenderRole: store.RoleExpert, Content: content}
	return msg, w.store.CreateMessage(ctx, msg)
}

type fixture struct {
	store     *store.MockStore
	fetcher   *fakeFetcher
	answer    func() (string, error)
	compress  func(raw string) (string, error)
	answers   int
	compacts  int
	responder *Responder

	asker  *store.User
	expert *store.User
}

func newFixture(t *testing.T, links ...string) *fixture {
	t.Helper()
	ctx := context.Background()

	c, err := cache.NewMemory(100)
	require.NoError(t, err)

	f := &fixture{
		store:    store.NewMockStore(),
		fetcher:  &fakeFetcher{pages: map[string]string{}},
		answer:   func() (string, error) { return "Have you tried turning it off and on again?", nil },
		compress: func(raw string) (string, error) { return "compressed reference", nil },
	}

	completer := llm.CompleterFunc(func(ctx context.Context, system, user string) (string, error) {
		if system == compressSystemPrompt {
			f.compacts++
			return f.compress(user)
		}
		f.answers++
		return f.answer()
	})
	f.responder = New(f.store, c, completer, f.fetcher, storeWriter{f.store}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	f.asker = &store.User{Username: "asker"}
	require.NoError(t, f.store.CreateUser(ctx, f.asker))
	f.expert = &store.User{Username: "erin"}
	require.NoError(t, f.store.CreateUser(ctx, f.expert))
	require.NoError(t, f.store.UpdateExpertProfile(ctx, &store.ExpertProfile{
		UserID: f.expert.ID, Bio: "printers", KnowledgeBaseLinks: links,
	}))
	return f
}

// start creates a conversation assigned to the expert with one initiator message.
func (f *fixture) start(t *testing.T, assign bool) (*store.Conversation, *store.Message) {
	t.Helper()
	ctx := context.Background()

	conv := &store.Conversation{Title: "Printer jams", InitiatorID: f.asker.ID}
	require.NoError(t, f.store.CreateConversation(ctx, conv))
	if assign {
		_, err := f.store.AssignExpert(ctx, conv.ID, f.expert.ID, time.Now())
		require.NoError(t, err)
	}
	msg := &store.Message{ConversationID: conv.ID, SenderID: f.asker.ID, SenderRole: store.RoleInitiator, Content: "Paper keeps jamming"}
	require.NoError(t, f.store.CreateMessage(ctx, msg))

	conv, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	return conv, msg
}

func (f *fixture) messages(t *testing.T, convID int64) []*store.Message {
	t.Helper()
	msgs, err := f.store.ListMessages(context.Background(), convID)
	require.NoError(t, err)
	return msgs
}

func TestMaybeRespond_SingleResource(t *testing.T) {
	f := newFixture(t, "https://kb.example.com/printers")
	f.fetcher.pages["https://kb.example.com/printers"] = "Open tray 2 and remove the jammed sheet."

	conv, msg := f.start(t, true)
	require.True(t, f.responder.MaybeRespond(context.Background(), conv, msg))

	msgs := f.messages(t, conv.ID)
	require.Len(t, msgs, 2)
	bot := msgs[1]
	assert.Equal(t, f.expert.ID, bot.SenderID)
	assert.Equal(t, store.RoleExpert, bot.SenderRole)

	want := "🤖 Hey! I'm a bot here to help you with some resources from erin's knowledge base.\n\n" +
		"Have you tried turning it off and on again?" +
		"\n\n📚 For more info, check out this resource: https://kb.example.com/printers" +
		"\n\nFeel free to keep chatting with erin if you need more help!"
	assert.Equal(t, want, bot.Content)
}

func TestMaybeRespond_SkipsFailedLinks(t *testing.T) {
	f := newFixture(t, "https://kb.example.com/a", "https://kb.example.com/missing", "https://kb.example.com/b")
	f.fetcher.pages["https://kb.example.com/a"] = "page a"
	f.fetcher.pages["https://kb.example.com/b"] = "page b"

	var raw string
	f.compress = func(user string) (string, error) {
		raw = user
		return "reference", nil
	}

	conv, msg := f.start(t, true)
	require.True(t, f.responder.MaybeRespond(context.Background(), conv, msg))

	assert.Contains(t, raw, "=== Content from https://kb.example.com/a ===\npage a\n\n\n=== Content from https://kb.example.com/b ===\npage b\n")
	assert.NotContains(t, raw, "missing")

	bot := f.messages(t, conv.ID)[1].Content
	assert.Contains(t, bot, "these resources:\n• https://kb.example.com/a\n• https://kb.example.com/b\n\n\nFeel free")
	assert.NotContains(t, bot, "missing")
}

func TestMaybeRespond_TriggerRules(t *testing.T) {
	ctx := context.Background()

	t.Run("second message", func(t *testing.T) {
		f := newFixture(t, "https://kb.example.com")
		f.fetcher.pages["https://kb.example.com"] = "docs"
		conv, _ := f.start(t, true)

		second := &store.Message{ConversationID: conv.ID, SenderID: f.asker.ID, SenderRole: store.RoleInitiator, Content: "still jammed"}
		require.NoError(t, f.store.CreateMessage(ctx, second))

		assert.False(t, f.responder.MaybeRespond(ctx, conv, second))
		assert.Zero(t, f.answers)
		assert.Zero(t, f.fetcher.calls)
	})

	t.Run("first message answered after a follow-up", func(t *testing.T) {
		f := newFixture(t, "https://kb.example.com")
		f.fetcher.pages["https://kb.example.com"] = "docs"
		conv, first := f.start(t, true)

		second := &store.Message{ConversationID: conv.ID, SenderID: f.asker.ID, SenderRole: store.RoleInitiator, Content: "still jammed"}
		require.NoError(t, f.store.CreateMessage(ctx, second))

		assert.True(t, f.responder.MaybeRespond(ctx, conv, first))
		assert.Equal(t, 1, f.answers)
	})

	t.Run("expert sender", func(t *testing.T) {
		f := newFixture(t, "https://kb.example.com")
		conv := &store.Conversation{Title: "Printer jams", InitiatorID: f.asker.ID}
		require.NoError(t, f.store.CreateConversation(ctx, conv))
		_, err := f.store.AssignExpert(ctx, conv.ID, f.expert.ID, time.Now())
		require.NoError(t, err)
		msg := &store.Message{ConversationID: conv.ID, SenderID: f.expert.ID, SenderRole: store.RoleExpert, Content: "hello"}
		require.NoError(t, f.store.CreateMessage(ctx, msg))
		conv, err = f.store.GetConversation(ctx, conv.ID)
		require.NoError(t, err)

		assert.False(t, f.responder.MaybeRespond(ctx, conv, msg))
		assert.Zero(t, f.answers)
	})

	t.Run("unassigned", func(t *testing.T) {
		f := newFixture(t, "https://kb.example.com")
		conv, msg := f.start(t, false)
		assert.False(t, f.responder.MaybeRespond(ctx, conv, msg))
		assert.Zero(t, f.fetcher.calls)
	})

	t.Run("no links", func(t *testing.T) {
		f := newFixture(t, " ", "")
		conv, msg := f.start(t, true)
		assert.False(t, f.responder.MaybeRespond(ctx, conv, msg))
		assert.Zero(t, f.fetcher.calls)
	})
}

func TestMaybeRespond_NothingFetched(t *testing.T) {
	f := newFixture(t, "https://kb.example.com/down")
	conv, msg := f.start(t, true)

	assert.False(t, f.responder.MaybeRespond(context.Background(), conv, msg))
	assert.Zero(t, f.compacts)
	assert.Zero(t, f.answers)
	assert.Len(t, f.messages(t, conv.ID), 1)
}

func TestMaybeRespond_UnableIsSilent(t *testing.T) {
	f := newFixture(t, "https://kb.example.com")
	f.fetcher.pages["https://kb.example.com"] = "docs"
	f.answer = func() (string, error) { return "UNABLE", nil }

	conv, msg := f.start(t, true)
	assert.False(t, f.responder.MaybeRespond(context.Background(), conv, msg))
	assert.Len(t, f.messages(t, conv.ID), 1)
}

func TestMaybeRespond_LLMErrorIsSilent(t *testing.T) {
	f := newFixture(t, "https://kb.example.com")
	f.fetcher.pages["https://kb.example.com"] = "docs"
	f.answer = func() (string, error) { return "", errors.New("provider down") }

	conv, msg := f.start(t, true)
	assert.False(t, f.responder.MaybeRespond(context.Background(), conv, msg))
	assert.Len(t, f.messages(t, conv.ID), 1)
}

func TestMaybeRespond_CachesContentPerLinkSet(t *testing.T) {
	f := newFixture(t, "https://kb.example.com")
	f.fetcher.pages["https://kb.example.com"] = "docs"
	ctx := context.Background()

	conv, msg := f.start(t, true)
	require.True(t, f.responder.MaybeRespond(ctx, conv, msg))
	conv, msg = f.start(t, true)
	require.True(t, f.responder.MaybeRespond(ctx, conv, msg))

	assert.Equal(t, 1, f.fetcher.calls, "second conversation reuses cached content")
	assert.Equal(t, 1, f.compacts)
	assert.Equal(t, 2, f.answers)

	// A changed link set has a new fingerprint and is fetched again.
	require.NoError(t, f.store.UpdateExpertProfile(ctx, &store.ExpertProfile{
		UserID: f.expert.ID, Bio: "printers", KnowledgeBaseLinks: []string{"https://kb.example.com", "https://kb.example.com/new"},
	}))
	conv, msg = f.start(t, true)
	require.True(t, f.responder.MaybeRespond(ctx, conv, msg))
	assert.Equal(t, 3, f.fetcher.calls)
}

func TestMaybeRespond_CompressionFailureFallsBackToRaw(t *testing.T) {
	f := newFixture(t, "https://kb.example.com")
	f.fetcher.pages["https://kb.example.com"] = "raw docs"
	f.compress = func(string) (string, error) { return "", errors.New("too long") }

	var seen string
	completer := f.responder.llm
	f.responder.llm = llm.CompleterFunc(func(ctx context.Context, system, user string) (string, error) {
		if system == answerSystemPrompt {
			seen = user
		}
		return completer.Complete(ctx, system, user)
	})

	conv, msg := f.start(t, true)
	require.True(t, f.responder.MaybeRespond(context.Background(), conv, msg))
	assert.True(t, strings.HasPrefix(seen, "FAQ/Knowledge Base Content:\n=== Content from https://kb.example.com ===\nraw docs\n"))
}

func TestUnableToAnswer(t *testing.T) {
	tests := []struct {
		answer string
		want   bool
	}{
		{"UNABLE", true},
		{"unable", true},
		{"Sorry, UNABLE to help.", true},
		{"I cannot answer that from the FAQ.", true},
		{"i can't find that", true},
		{"I CANNOT say", true},
		{"Have you tried restarting?", false},
		{"You might be unable to print duplex.", false},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			assert.Equal(t, tt.want, unableToAnswer(tt.answer))
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]string{"https://a", "https://b"})
	assert.Len(t, a, 16)
	assert.Equal(t, a, Fingerprint([]string{"https://a", "https://b"}))
	assert.NotEqual(t, a, Fingerprint([]string{"https://b", "https://a"}), "order matters")
}
