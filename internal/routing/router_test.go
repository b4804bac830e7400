// ABOUTME: Tests for the expert router decision procedure
// ABOUTME: Uses MockStore, the memory cache and scripted completers

package routing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/helpdesk-gateway/internal/cache"
	"github.com/2389/helpdesk-gateway/internal/llm"
	"github.com/2389/helpdesk-gateway/internal/store"
)

type fixture struct {
	store  *store.MockStore
	cache  *cache.Memory
	calls  int
	prompt string
	reply  func(user string) (string, error)
	router *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c, err := cache.NewMemory(100)
	require.NoError(t, err)

	f := &fixture{store: store.NewMockStore(), cache: c}
	completer := llm.CompleterFunc(func(ctx context.Context, system, user string) (string, error) {
		f.calls++
		f.prompt = user
		if f.reply == nil {
			return "NONE", nil
		}
		return f.reply(user)
	})
	f.router = New(f.store, c, completer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func (f *fixture) user(t *testing.T, name, bio string, links ...string) *store.User {
	t.Helper()
	ctx := context.Background()
	u := &store.User{Username: name}
	require.NoError(t, f.store.CreateUser(ctx, u))
	if bio != "" || len(links) > 0 {
		require.NoError(t, f.store.UpdateExpertProfile(ctx, &store.ExpertProfile{
			UserID: u.ID, Bio: bio, KnowledgeBaseLinks: links,
		}))
	}
	return u
}

func (f *fixture) conversation(t *testing.T, initiator int64, title string) *store.Conversation {
	t.Helper()
	c := &store.Conversation{Title: title, InitiatorID: initiator}
	require.NoError(t, f.store.CreateConversation(context.Background(), c))
	return c
}

func (f *fixture) reload(t *testing.T, id int64) *store.Conversation {
	t.Helper()
	c, err := f.store.GetConversation(context.Background(), id)
	require.NoError(t, err)
	return c
}

func TestRoute_NoEligibleExperts(t *testing.T) {
	f := newFixture(t)
	asker := f.user(t, "asker", "")
	f.user(t, "blank", "   ")
	conv := f.conversation(t, asker.ID, "How do I reset my password?")

	_, ok := f.router.Route(context.Background(), conv)
	assert.False(t, ok)
	assert.Zero(t, f.calls, "llm is not consulted without experts")

	got := f.reload(t, conv.ID)
	assert.Equal(t, store.StatusWaiting, got.Status)
	assert.Nil(t, got.AssignedExpertID)

	history, err := f.store.ListAssignmentsForConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRoute_BlankTitleNeverCallsLLM(t *testing.T) {
	f := newFixture(t)
	asker := f.user(t, "asker", "")
	f.user(t, "expert", "databases")

	for _, title := range []string{"", "   ", "\n\t"} {
		conv := f.conversation(t, asker.ID, title)
		_, ok := f.router.Route(context.Background(), conv)
		assert.False(t, ok)
	}
	assert.Zero(t, f.calls)
}

func TestRoute_FibonacciGoesToMathExpert(t *testing.T) {
	f := newFixture(t)
	asker := f.user(t, "asker", "")
	a := f.user(t, "alice", "math")
	f.user(t, "bob", "cooking")

	// Picks the expert whose bio line mentions math.
	line := regexp.MustCompile(`ID=(\d+) USERNAME=\S+ BIO="math"`)
	f.reply = func(user string) (string, error) {
		if !strings.Contains(user, "Fibonacci") {
			return "NONE", nil
		}
		return line.FindStringSubmatch(user)[1], nil
	}

	conv := f.conversation(t, asker.ID, "Fibonacci sequence help")
	expertID, ok := f.router.Route(context.Background(), conv)
	require.True(t, ok)
	assert.Equal(t, a.ID, expertID)

	got := f.reload(t, conv.ID)
	assert.Equal(t, store.StatusActive, got.Status)
	require.NotNil(t, got.AssignedExpertID)
	assert.Equal(t, a.ID, *got.AssignedExpertID)

	history, err := f.store.ListAssignmentsForConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, store.AssignmentActive, history[0].Status)
	assert.Equal(t, a.ID, history[0].ExpertID)
}

func TestRoute_OnlyEligibleIDsAreAssigned(t *testing.T) {
	f := newFixture(t)
	asker := f.user(t, "asker", "")
	f.user(t, "expert", "networking")

	// The asker exists but has no bio, so naming them must not assign.
	f.reply = func(string) (string, error) { return "I'd pick " + itoa(asker.ID), nil }

	conv := f.conversation(t, asker.ID, "VPN drops every hour")
	_, ok := f.router.Route(context.Background(), conv)
	assert.False(t, ok)
	assert.Equal(t, 1, f.calls)
	assert.Equal(t, store.StatusWaiting, f.reload(t, conv.ID).Status)
}

func TestRoute_LLMFailureLeavesWaiting(t *testing.T) {
	f := newFixture(t)
	asker := f.user(t, "asker", "")
	f.user(t, "expert", "networking")
	f.reply = func(string) (string, error) { return "", errors.New("provider down") }

	conv := f.conversation(t, asker.ID, "VPN drops every hour")
	_, ok := f.router.Route(context.Background(), conv)
	assert.False(t, ok)
	assert.Equal(t, store.StatusWaiting, f.reload(t, conv.ID).Status)
}

func TestRoute_AlreadyAssigned(t *testing.T) {
	f := newFixture(t)
	asker := f.user(t, "asker", "")
	e := f.user(t, "expert", "networking")
	other := f.user(t, "other", "")
	f.reply = func(string) (string, error) { return itoa(e.ID), nil }

	conv := f.conversation(t, asker.ID, "VPN drops every hour")
	_, err := f.store.AssignExpert(context.Background(), conv.ID, other.ID, time.Now())
	require.NoError(t, err)

	_, ok := f.router.Route(context.Background(), conv)
	assert.False(t, ok)

	got := f.reload(t, conv.ID)
	assert.Equal(t, other.ID, *got.AssignedExpertID, "claim by another expert wins")
}

func TestRoute_UsesCachedEligibleExperts(t *testing.T) {
	f := newFixture(t)
	asker := f.user(t, "asker", "")
	f.user(t, "expert", "networking")

	conv := f.conversation(t, asker.ID, "first")
	f.router.Route(context.Background(), conv)

	// A bio added after the list was cached stays invisible until invalidation.
	late := f.user(t, "late", "late bio")
	f.router.Route(context.Background(), f.conversation(t, asker.ID, "second"))
	assert.NotContains(t, f.prompt, "USERNAME=late")

	require.NoError(t, f.cache.Invalidate(context.Background(), cache.EligibleExpertsKey))
	f.router.Route(context.Background(), f.conversation(t, asker.ID, "third"))
	assert.Contains(t, f.prompt, "ID="+itoa(late.ID)+" USERNAME=late")
}

func TestBuildUserPrompt(t *testing.T) {
	prompt := buildUserPrompt("Printer jams", []*store.EligibleExpert{
		{UserID: 4, Username: "pat", Bio: "printers\n and   scanners", KnowledgeBaseLinks: []string{"https://a", " ", "https://b"}},
		{UserID: 7, Username: "sam", Bio: "networks"},
	})

	want := "Question:\nPrinter jams\n\n" +
		"Experts (with bios and knowledge base links):\n" +
		"ID=4 USERNAME=pat BIO=\"printers and scanners\" KNOWLEDGE_BASE_LINKS=\"https://a, https://b\"\n" +
		"ID=7 USERNAME=sam BIO=\"networks\" KNOWLEDGE_BASE_LINKS=\"none\"\n" +
		"\nBased on BOTH the bios and the knowledge base links, which expert_id is the best match for this question?\n" +
		"If none of these experts are a good match, respond with: NONE"
	assert.Equal(t, want, prompt)
}

func TestParseExpertID(t *testing.T) {
	experts := []*store.EligibleExpert{{UserID: 12}, {UserID: 3}}

	tests := []struct {
		reply string
		want  int64
		ok    bool
	}{
		{"12", 12, true},
		{"  3\n", 3, true},
		{"expert_id: 12.", 12, true},
		{"NONE", 0, false},
		{" none ", 0, false},
		{"None", 0, false},
		{"", 0, false},
		{"no idea", 0, false},
		{"99", 0, false},
		{"3 or 12", 3, true},
		{"99999999999999999999999", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			got, ok := parseExpertID(tt.reply, experts)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestTruncate_CountsRunes(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 80))
	assert.Equal(t, "abc...", truncate("abcdef", 3))

	reply := strings.Repeat("日本語", 40)
	got := truncate(reply, 80)
	assert.True(t, utf8.ValidString(got), "cut lands on a rune boundary")
	assert.Equal(t, strings.Repeat("日本語", 40)[:len("日")*80]+"...", got)

	assert.Equal(t, "naïve", truncate("naïve", 5), "five runes fit even though they are six bytes")
}
