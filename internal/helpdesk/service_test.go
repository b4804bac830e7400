// ABOUTME: Tests for the help desk service against the mock store and memory cache
// ABOUTME: Covers permissions, mark-read rules, job fan-out and cache invalidation

package helpdesk

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/helpdesk-gateway/internal/cache"
	"github.com/2389/helpdesk-gateway/internal/jobs"
	"github.com/2389/helpdesk-gateway/internal/routing"
	"github.com/2389/helpdesk-gateway/internal/store"
)

var base = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeRouter struct {
	store  store.Store
	assign int64
	calls  int
}

func (f *fakeRouter) Route(ctx context.Context, conv *store.Conversation) (int64, bool) {
	f.calls++
	if f.assign == 0 {
		return 0, false
	}
	if _, err := f.store.AssignExpert(ctx, conv.ID, f.assign, base); err != nil {
		return 0, false
	}
	return f.assign, true
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
}

func (q *fakeQueue) Enqueue(job jobs.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return true
}

func (q *fakeQueue) kinds() []jobs.Kind {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []jobs.Kind
	for _, j := range q.jobs {
		out = append(out, j.Kind)
	}
	return out
}

type fakeNotifier struct {
	users   []int64
	experts int
}

func (n *fakeNotifier) Notify(ids ...int64) { n.users = append(n.users, ids...) }
func (n *fakeNotifier) NotifyExperts()      { n.experts++ }

type fixture struct {
	store    *store.MockStore
	cache    *cache.Memory
	router   *fakeRouter
	queue    *fakeQueue
	notifier *fakeNotifier
	svc      *Service
	clock    time.Time

	asker, expert, other *store.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMockStore()
	c, err := cache.NewMemory(128)
	require.NoError(t, err)

	f := &fixture{
		store:    s,
		cache:    c,
		router:   &fakeRouter{store: s},
		queue:    &fakeQueue{},
		notifier: &fakeNotifier{},
		clock:    base,
	}
	f.svc = New(s, c, f.router, f.queue, f.notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.svc.now = func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}

	f.asker = &store.User{Username: "asker"}
	f.expert = &store.User{Username: "expert"}
	f.other = &store.User{Username: "other"}
	for _, u := range []*store.User{f.asker, f.expert, f.other} {
		require.NoError(t, s.CreateUser(context.Background(), u))
	}
	return f
}

func (f *fixture) conversation(t *testing.T, title string) ConversationPayload {
	t.Helper()
	conv, err := f.svc.CreateConversation(context.Background(), f.asker.ID, title)
	require.NoError(t, err)
	return conv
}

func (f *fixture) claimed(t *testing.T) int64 {
	t.Helper()
	conv := f.conversation(t, "VPN drops every hour")
	id := parseID(t, conv.ID)
	require.NoError(t, f.svc.Claim(context.Background(), f.expert.ID, id))
	return id
}

func parseID(t *testing.T, s string) int64 {
	t.Helper()
	id, err := strconv.ParseInt(s, 10, 64)
	require.NoError(t, err)
	return id
}

func TestCreateConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateConversation(ctx, f.asker.ID, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, f.router.calls, "invalid input never reaches the router")

	conv := f.conversation(t, "  Printer on fire  ")
	assert.Equal(t, "Printer on fire", conv.Title)
	assert.Equal(t, "waiting", conv.Status)
	assert.Equal(t, "No messages yet", conv.Summary)
	assert.Equal(t, "asker", conv.QuestionerUsername)
	assert.Nil(t, conv.AssignedExpertID)
	assert.Equal(t, 1, f.router.calls)
	assert.Equal(t, []jobs.Kind{jobs.KindAssignExpert}, f.queue.kinds())
	assert.Equal(t, 1, f.notifier.experts)
}

func TestCreateConversation_RoutedSynchronously(t *testing.T) {
	f := newFixture(t)
	f.router.assign = f.expert.ID

	conv := f.conversation(t, "Fibonacci in Go")
	assert.Equal(t, "active", conv.Status)
	require.NotNil(t, conv.AssignedExpertUsername)
	assert.Equal(t, "expert", *conv.AssignedExpertUsername)
}

func TestGetConversation_OnlyParties(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.claimed(t)

	for _, u := range []*store.User{f.asker, f.expert} {
		_, err := f.svc.GetConversation(ctx, u.ID, id)
		assert.NoError(t, err)
	}
	_, err := f.svc.GetConversation(ctx, f.other.ID, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.claimed(t)
	f.queue.jobs = nil

	_, err := f.svc.PostMessage(ctx, f.other.ID, id, "hi")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.svc.PostMessage(ctx, f.asker.ID, id, " \n")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.PostMessage(ctx, f.asker.ID, 9999, "hi")
	assert.ErrorIs(t, err, store.ErrNotFound)

	q, err := f.svc.SendMessage(ctx, f.asker.ID, id, "It drops at :00")
	require.NoError(t, err)
	assert.Equal(t, "initiator", q.SenderRole)
	assert.Equal(t, "asker", q.SenderUsername)
	assert.False(t, q.IsRead)

	a, err := f.svc.SendMessage(ctx, f.expert.ID, id, "Which client?")
	require.NoError(t, err)
	assert.Equal(t, "expert", a.SenderRole)

	assert.Equal(t, []jobs.Kind{
		jobs.KindFAQRespond, jobs.KindSummarize,
		jobs.KindFAQRespond, jobs.KindSummarize,
	}, f.queue.kinds())
}

func TestPostMessage_InvalidatesCachedLists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.claimed(t)

	// Warm both caches.
	msgs, err := f.svc.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Empty(t, msgs)
	convs, err := f.svc.ListConversations(ctx, f.expert.ID)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Zero(t, convs[0].UnreadCount)

	_, err = f.svc.PostMessage(ctx, f.asker.ID, id, "first question")
	require.NoError(t, err)

	msgs, err = f.svc.ListMessages(ctx, id)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	convs, err = f.svc.ListConversations(ctx, f.expert.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, convs[0].UnreadCount)
	assert.Equal(t, "first question", convs[0].Summary)
	assert.NotNil(t, convs[0].LastMessageAt)
}

func TestListMessages_MissingConversation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListMessages(context.Background(), 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.claimed(t)

	msg, err := f.svc.PostMessage(ctx, f.asker.ID, id, "help")
	require.NoError(t, err)

	_, err = f.svc.ListMessages(ctx, id)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.MarkRead(ctx, f.other.ID, msg.ID), store.ErrNotFound, "non-party")
	assert.ErrorIs(t, f.svc.MarkRead(ctx, f.asker.ID, msg.ID), ErrForbidden, "own message")
	assert.ErrorIs(t, f.svc.MarkRead(ctx, f.expert.ID, 9999), store.ErrNotFound, "missing message")

	require.NoError(t, f.svc.MarkRead(ctx, f.expert.ID, msg.ID))
	require.NoError(t, f.svc.MarkRead(ctx, f.expert.ID, msg.ID), "idempotent")

	msgs, err := f.svc.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsRead, "cached list reflects the write")

	convs, err := f.svc.ListConversations(ctx, f.expert.ID)
	require.NoError(t, err)
	assert.Zero(t, convs[0].UnreadCount)
}

func TestClaimUnclaimResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv := f.conversation(t, "Disk full")
	id := parseID(t, conv.ID)

	assert.ErrorIs(t, f.svc.Claim(ctx, f.expert.ID, 9999), store.ErrNotFound)
	assert.ErrorIs(t, f.svc.Resolve(ctx, f.expert.ID, id), store.ErrNotAssignee)

	require.NoError(t, f.svc.Claim(ctx, f.expert.ID, id))
	assert.ErrorIs(t, f.svc.Claim(ctx, f.other.ID, id), store.ErrAlreadyAssigned)
	assert.ErrorIs(t, f.svc.Unclaim(ctx, f.other.ID, id), store.ErrNotAssignee)

	history, err := f.svc.AssignmentHistory(ctx, f.expert.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "active", history[0].Status)
	assert.Nil(t, history[0].Rating)

	require.NoError(t, f.svc.Unclaim(ctx, f.expert.ID, id))
	history, err = f.svc.AssignmentHistory(ctx, f.expert.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "resolved", history[0].Status, "cached history is invalidated on unclaim")
	assert.NotNil(t, history[0].ResolvedAt)

	queue, err := f.svc.Queue(ctx, f.expert.ID)
	require.NoError(t, err)
	assert.Len(t, queue.WaitingConversations, 1)
	assert.Empty(t, queue.AssignedConversations)

	require.NoError(t, f.svc.Claim(ctx, f.expert.ID, id))
	f.queue.jobs = nil
	require.NoError(t, f.svc.Resolve(ctx, f.expert.ID, id))
	assert.Equal(t, []jobs.Kind{jobs.KindSummarize}, f.queue.kinds())
	assert.ErrorIs(t, f.svc.Resolve(ctx, f.expert.ID, id), store.ErrInvalidState)

	history, err = f.svc.AssignmentHistory(ctx, f.expert.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	got, err := f.svc.GetConversation(ctx, f.asker.ID, id)
	require.NoError(t, err)
	assert.Equal(t, "resolved", got.Status)
}

func TestQueueOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.conversation(t, "first")
	f.conversation(t, "second")

	queue, err := f.svc.Queue(ctx, f.expert.ID)
	require.NoError(t, err)
	require.Len(t, queue.WaitingConversations, 2)
	assert.Equal(t, first.ID, queue.WaitingConversations[0].ID)
	assert.False(t, queue.Empty())
}

func TestUpdateProfile_InvalidatesEligibleExperts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	eligible, err := routing.EligibleExperts(ctx, f.store, f.cache)
	require.NoError(t, err)
	assert.Empty(t, eligible)

	p, err := f.svc.UpdateProfile(ctx, f.expert.ID, "Networking and VPNs", nil)
	require.NoError(t, err)
	assert.Equal(t, "Networking and VPNs", p.Bio)
	assert.NotNil(t, p.KnowledgeBaseLinks)

	eligible, err = routing.EligibleExperts(ctx, f.store, f.cache)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, f.expert.ID, eligible[0].UserID)
}

func TestRequireExpert(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.svc.RequireExpert(context.Background(), f.expert.ID))
	assert.ErrorIs(t, f.svc.RequireExpert(context.Background(), 9999), ErrNotExpert)
}

func TestRenderConversation_SummaryFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.claimed(t)

	long := strings.Repeat("é", 150)
	_, err := f.svc.PostMessage(ctx, f.asker.ID, id, long)
	require.NoError(t, err)

	got, err := f.svc.GetConversation(ctx, f.asker.ID, id)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 97)+"...", got.Summary)
	assert.Equal(t, formatID(id), got.ID)
	assert.Equal(t, formatID(f.asker.ID), got.QuestionerID)

	require.NoError(t, f.store.UpdateSummary(ctx, id, "VPN drops hourly", base))
	got, err = f.svc.GetConversation(ctx, f.asker.ID, id)
	require.NoError(t, err)
	assert.Equal(t, "VPN drops hourly", got.Summary)
}

func TestFormatting(t *testing.T) {
	at := time.Date(2025, 5, 1, 9, 30, 15, 123456000, time.FixedZone("EDT", -4*3600))
	assert.Equal(t, "2025-05-01T13:30:15Z", formatTime(at))
	assert.Nil(t, formatOptionalTime(nil))
	assert.Equal(t, "short", excerpt("short", 100))
	assert.Equal(t, strings.Repeat("a", 100), excerpt(strings.Repeat("a", 100), 100))
	assert.Equal(t, strings.Repeat("a", 97)+"...", excerpt(strings.Repeat("a", 101), 100))
}
