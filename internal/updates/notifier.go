// ABOUTME: In-memory wakeup fan-out for open update streams
// ABOUTME: Wakes coalesce per subscriber; a stream re-reads state rather than receiving rows

package updates

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

type subscription struct {
	expert bool
	ch     chan struct{}
}

// Notifier wakes streams when their user's data changes.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[int64]map[string]*subscription // userID -> subID -> sub
	logger      *slog.Logger
}

// NewNotifier creates a Notifier. Pass nil logger for default.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		subscribers: make(map[int64]map[string]*subscription),
		logger:      logger.With("component", "notifier"),
	}
}

// Subscribe registers a stream for userID. Experts also wake on queue changes.
// The returned func removes the subscription. The channel is never closed.
func (n *Notifier) Subscribe(userID int64, expert bool) (<-chan struct{}, func()) {
	subID := uuid.NewString()
	sub := &subscription{expert: expert, ch: make(chan struct{}, 1)}

	n.mu.Lock()
	if _, ok := n.subscribers[userID]; !ok {
		n.subscribers[userID] = make(map[string]*subscription)
	}
	n.subscribers[userID][subID] = sub
	n.mu.Unlock()

	n.logger.Debug("subscriber added", "user_id", userID, "sub_id", subID)

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { n.unsubscribe(userID, subID) })
	}
}

func (n *Notifier) unsubscribe(userID int64, subID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	subs, ok := n.subscribers[userID]
	if !ok {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(n.subscribers, userID)
	}
	n.logger.Debug("subscriber removed", "user_id", userID, "sub_id", subID)
}

// Notify wakes every stream of the given users.
func (n *Notifier) Notify(userIDs ...int64) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, id := range userIDs {
		for _, sub := range n.subscribers[id] {
			wake(sub.ch)
		}
	}
}

// NotifyExperts wakes every expert stream.
func (n *Notifier) NotifyExperts() {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, subs := range n.subscribers {
		for _, sub := range subs {
			if sub.expert {
				wake(sub.ch)
			}
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (n *Notifier) Subscribers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	total := 0
	for _, subs := range n.subscribers {
		total += len(subs)
	}
	return total
}

// wake never blocks; a pending wake already covers this one.
func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
