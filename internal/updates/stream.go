// ABOUTME: Push loop that polls the since-queries and writes events to a sink
// ABOUTME: Runs until the caller's context ends or the sink fails; the sink is always closed

package updates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/helpdesk-gateway/internal/helpdesk"
	"github.com/2389/helpdesk-gateway/internal/metrics"
	"github.com/2389/helpdesk-gateway/internal/store"
)

// Stream event names.
const (
	EventConversation = "conversation-update"
	EventMessage      = "message-update"
	EventExpertQueue  = "expert-queue-update"
	EventHeartbeat    = "heartbeat"
)

const (
	// DefaultInterval is the poll period when none is configured.
	DefaultInterval = 2 * time.Second

	// tickTimeout bounds the reads of a single tick.
	tickTimeout = 10 * time.Second
)

// EventSink receives stream events. The HTTP implementation writes SSE frames.
type EventSink interface {
	Send(event string, payload any) error
	Close() error
}

// Heartbeat is the payload of a heartbeat event.
type Heartbeat struct {
	Timestamp string `json:"timestamp"`
}

// Stream polls for changes on behalf of one connected user at a time.
type Stream struct {
	store    store.Store
	queries  *Queries
	notifier *Notifier
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewStream creates a Stream. A nil notifier means polling only.
func NewStream(s store.Store, notifier *Notifier, interval time.Duration, logger *slog.Logger) *Stream {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Stream{
		store:    s,
		queries:  NewQueries(s),
		notifier: notifier,
		interval: interval,
		logger:   logger.With("component", "stream"),
		now:      time.Now,
	}
}

type tickEvents struct {
	conversations []helpdesk.ConversationPayload
	messages      []helpdesk.MessagePayload
	queue         *helpdesk.QueuePayload
}

// Run streams updates for userID to sink. It returns nil when ctx ends and
// the sink's error when a send fails. sink.Close runs on every exit path.
func (st *Stream) Run(ctx context.Context, userID int64, sink EventSink) error {
	defer sink.Close()

	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()

	logger := st.logger.With("user_id", userID)

	expert, err := st.isExpert(ctx, userID)
	if err != nil {
		return err
	}

	var wakeups <-chan struct{}
	subscribers := 0
	if st.notifier != nil {
		ch, unsubscribe := st.notifier.Subscribe(userID, expert)
		defer unsubscribe()
		wakeups = ch
		subscribers = st.notifier.Subscribers()
	}

	ticker := time.NewTicker(st.interval)
	defer ticker.Stop()

	logger.Debug("stream opened", "expert", expert, "subscribers", subscribers)
	watermark := st.now().UTC()

	for {
		tickStart := st.now().UTC()

		events, err := st.collect(ctx, userID, expert, watermark)
		switch {
		case ctx.Err() != nil:
			logger.Debug("stream closed")
			return nil
		case err != nil:
			// Keep the watermark so the next tick retries the same window.
			logger.Warn("reading updates failed", "error", err)
		default:
			if err := st.emit(sink, events); err != nil {
				return err
			}
			watermark = tickStart
		}

		if err := sink.Send(EventHeartbeat, Heartbeat{Timestamp: st.now().UTC().Format(time.RFC3339)}); err != nil {
			return fmt.Errorf("sending heartbeat: %w", err)
		}

		select {
		case <-ctx.Done():
			logger.Debug("stream closed")
			return nil
		case <-ticker.C:
		case <-wakeups:
		}
	}
}

func (st *Stream) isExpert(ctx context.Context, userID int64) (bool, error) {
	_, err := st.store.GetExpertProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading expert profile: %w", err)
	}
	return true, nil
}

// collect runs one tick's reads under a bounded context.
func (st *Stream) collect(ctx context.Context, userID int64, expert bool, since time.Time) (tickEvents, error) {
	ctx, cancel := context.WithTimeout(ctx, tickTimeout)
	defer cancel()

	var events tickEvents
	r := helpdesk.NewRenderer(st.store)

	var err error
	if events.conversations, err = st.queries.conversationsSince(ctx, r, userID, &since); err != nil {
		return tickEvents{}, err
	}
	if events.messages, err = st.queries.messagesSince(ctx, r, userID, &since); err != nil {
		return tickEvents{}, err
	}
	if expert {
		queue, err := st.queries.expertQueueSince(ctx, r, userID, &since)
		if err != nil {
			return tickEvents{}, err
		}
		if !queue.Empty() {
			events.queue = &queue
		}
	}
	return events, nil
}

func (st *Stream) emit(sink EventSink, events tickEvents) error {
	for _, c := range events.conversations {
		if err := sink.Send(EventConversation, c); err != nil {
			return fmt.Errorf("sending %s: %w", EventConversation, err)
		}
	}
	for _, m := range events.messages {
		if err := sink.Send(EventMessage, m); err != nil {
			return fmt.Errorf("sending %s: %w", EventMessage, err)
		}
	}
	if events.queue != nil {
		if err := sink.Send(EventExpertQueue, *events.queue); err != nil {
			return fmt.Errorf("sending %s: %w", EventExpertQueue, err)
		}
	}
	return nil
}
