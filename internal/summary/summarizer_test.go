// ABOUTME: Tests for the summarizer state machine and prompt formatting
// ABOUTME: Drives message counts 1..N through MockStore with a fixed clock

package summary

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/helpdesk-gateway/internal/cache"
	"github.com/2389/helpdesk-gateway/internal/llm"
	"github.com/2389/helpdesk-gateway/internal/store"
)

var base = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store  *store.MockStore
	s      *Summarizer
	clock  time.Time
	fired  []Branch
	prompt string
	reply  func() (string, error)

	asker, expert *store.User
	conv          *store.Conversation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{store: store.NewMockStore(), clock: base}
	completer := llm.CompleterFunc(func(ctx context.Context, system, user string) (string, error) {
		switch system {
		case initialSystemPrompt:
			f.fired = append(f.fired, BranchInitial)
		case incrementalSystemPrompt:
			f.fired = append(f.fired, BranchIncremental)
		case resolutionSystemPrompt:
			f.fired = append(f.fired, BranchResolution)
		}
		f.prompt = user
		if f.reply != nil {
			return f.reply()
		}
		return "summary " + string(f.fired[len(f.fired)-1]), nil
	})
	f.s = New(f.store, cache.Noop{}, completer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.s.now = func() time.Time { return f.clock }

	f.asker = &store.User{Username: "asker"}
	require.NoError(t, f.store.CreateUser(ctx, f.asker))
	f.expert = &store.User{Username: "expert"}
	require.NoError(t, f.store.CreateUser(ctx, f.expert))

	f.conv = &store.Conversation{Title: "Laptop will not boot", InitiatorID: f.asker.ID, CreatedAt: base}
	require.NoError(t, f.store.CreateConversation(ctx, f.conv))
	_, err := f.store.AssignExpert(ctx, f.conv.ID, f.expert.ID, base)
	require.NoError(t, err)
	return f
}

// post adds the next message, alternating senders, and advances the clock past it.
func (f *fixture) post(t *testing.T, content string) int64 {
	t.Helper()
	msgs, err := f.store.ListMessages(context.Background(), f.conv.ID)
	require.NoError(t, err)

	sender, role := f.asker.ID, store.RoleInitiator
	if len(msgs)%2 == 1 {
		sender, role = f.expert.ID, store.RoleExpert
	}
	f.clock = f.clock.Add(time.Minute)
	msg := &store.Message{
		ConversationID: f.conv.ID, SenderID: sender, SenderRole: role,
		Content: content, CreatedAt: f.clock,
	}
	require.NoError(t, f.store.CreateMessage(context.Background(), msg))
	f.clock = f.clock.Add(time.Second)
	return msg.ID
}

func (f *fixture) summary(t *testing.T) *string {
	t.Helper()
	c, err := f.store.GetConversation(context.Background(), f.conv.ID)
	require.NoError(t, err)
	return c.Summary
}

func TestMilestoneSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	firedAt := map[int]Branch{}
	for n := 1; n <= 24; n++ {
		id := f.post(t, "message")
		before := len(f.fired)
		f.s.MaybeSummarize(ctx, f.conv, id)
		if len(f.fired) > before {
			firedAt[n] = f.fired[len(f.fired)-1]
		}

		// Idempotence: a second call without new messages changes nothing.
		summary := f.summary(t)
		assert.False(t, f.s.MaybeSummarize(ctx, f.conv, id), "repeat call at n=%d", n)
		assert.Equal(t, summary, f.summary(t))
	}

	assert.Equal(t, map[int]Branch{
		3:  BranchInitial,
		8:  BranchIncremental,
		13: BranchIncremental,
		18: BranchIncremental,
		23: BranchIncremental,
	}, firedAt)
}

func TestResolutionFiresOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		f.s.MaybeSummarize(ctx, f.conv, f.post(t, "message"))
	}
	require.Equal(t, []Branch{BranchInitial}, f.fired)

	f.clock = f.clock.Add(time.Minute)
	require.NoError(t, f.store.ResolveConversation(ctx, f.conv.ID, f.expert.ID, f.clock))
	f.clock = f.clock.Add(time.Second)

	assert.True(t, f.s.MaybeSummarize(ctx, f.conv, 0))
	assert.False(t, f.s.MaybeSummarize(ctx, f.conv, 0))
	assert.Equal(t, []Branch{BranchInitial, BranchResolution}, f.fired)
	assert.Equal(t, "summary resolution", *f.summary(t))
}

func TestMilestonesSurviveMessageBursts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 9; i++ {
		ids = append(ids, f.post(t, "message"))
	}

	// Every job runs after the whole burst has been written. The initial
	// summary, written after message 8, already reflects it.
	for _, id := range ids {
		f.s.MaybeSummarize(ctx, f.conv, id)
	}
	assert.Equal(t, []Branch{BranchInitial}, f.fired)
	require.NotNil(t, f.summary(t))

	// Message 13 lands after that summary, so its milestone still fires.
	var last int64
	for i := 0; i < 4; i++ {
		last = f.post(t, "message")
	}
	for _, id := range append(ids, last) {
		f.s.MaybeSummarize(ctx, f.conv, id)
	}
	assert.Equal(t, []Branch{BranchInitial, BranchIncremental}, f.fired)
}

func TestIncrementalUsesPreviousSummaryAndLastFive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 8; i++ {
		f.s.MaybeSummarize(ctx, f.conv, f.post(t, "m"+string(rune('0'+i))))
	}

	require.Equal(t, []Branch{BranchInitial, BranchIncremental}, f.fired)
	want := "Previous summary: summary initial\n\nNew messages:\n" +
		"Expert: m4\nUser: m5\nExpert: m6\nUser: m7\nExpert: m8" +
		"\n\nProvide an updated summary (1-2 sentences) that incorporates any important new information."
	assert.Equal(t, want, f.prompt)
}

func TestFailuresLeaveSummaryUnchanged(t *testing.T) {
	ctx := context.Background()

	for name, reply := range map[string]func() (string, error){
		"error": func() (string, error) { return "", errors.New("provider down") },
		"empty": func() (string, error) { return "   ", nil },
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.reply = reply
			var id int64
			for i := 0; i < 3; i++ {
				id = f.post(t, "message")
			}
			assert.False(t, f.s.MaybeSummarize(ctx, f.conv, id))
			assert.Nil(t, f.summary(t))
		})
	}
}

func TestDue(t *testing.T) {
	existing := "existing"
	older := base
	newer := base.Add(time.Hour)

	tests := []struct {
		name string
		conv store.Conversation
		n    int
		at   time.Time
		want Branch
	}{
		{"too few", store.Conversation{}, 2, older, BranchNone},
		{"initial", store.Conversation{}, 3, older, BranchInitial},
		{"initial already done", store.Conversation{Summary: &existing}, 3, older, BranchNone},
		{"between milestones", store.Conversation{Summary: &existing}, 9, older, BranchNone},
		{"incremental", store.Conversation{Summary: &existing, SummaryUpdatedAt: &older}, 13, newer, BranchIncremental},
		{"incremental already done", store.Conversation{Summary: &existing, SummaryUpdatedAt: &newer}, 13, older, BranchNone},
		{"no message", store.Conversation{Summary: &existing}, 0, time.Time{}, BranchNone},
		{"resolved without summary", store.Conversation{Status: store.StatusResolved, UpdatedAt: newer}, 0, time.Time{}, BranchResolution},
		{"resolved stale summary", store.Conversation{Status: store.StatusResolved, Summary: &existing, SummaryUpdatedAt: &older, UpdatedAt: newer}, 5, older, BranchResolution},
		{"resolved fresh summary", store.Conversation{Status: store.StatusResolved, Summary: &existing, SummaryUpdatedAt: &newer, UpdatedAt: newer}, 0, time.Time{}, BranchNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Due(&tt.conv, tt.n, tt.at))
		})
	}
}

func TestBuildMessagesPrompt(t *testing.T) {
	conv := &store.Conversation{Title: "VPN", InitiatorID: 1}
	msgs := []*store.Message{
		{SenderID: 1, Content: "It drops"},
		{SenderID: 2, Content: "Which client?"},
		{SenderID: 3, Content: "bot reply"},
	}

	got := buildMessagesPrompt(conv, msgs, "Summarize.")
	assert.Equal(t, "Conversation Title: VPN\n\nMessages:\nUser: It drops\nExpert: Which client?\nExpert: bot reply\n\nSummarize.", got)
}
