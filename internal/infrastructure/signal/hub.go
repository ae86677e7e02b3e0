package signal

import (
	"context"
	"sync"

	"audiod/internal/core/domain"
	"audiod/internal/handlers/luna"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PushFunc hands a rendered reply to a connection. It must not block and
// returns false when the connection can no longer take frames.
type PushFunc func(token int64, reply luna.Reply) bool

type subscription struct {
	id    string
	conn  string
	token int64

	// mu orders backlog replay against live delivery.
	mu      sync.Mutex
	watcher *luna.Watcher
	push    PushFunc
	backlog []domain.StatusNotification
}

func (s *subscription) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watcher != nil
}

// Hub fans status notifications out to websocket subscriptions. Notify
// only queues; delivery happens on the goroutine running Run, in the order
// the notifications were raised.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]*subscription
	pending []domain.StatusNotification
	wake    chan struct{}

	logger *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		subs:   make(map[string]*subscription),
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

// Reserve opens a slot for the call identified by conn and token before
// the call reads any state. Notifications raised while the slot is
// reserved are held until Activate or discarded by Release.
func (h *Hub) Reserve(conn string, token int64) string {
	sub := &subscription{
		id:    uuid.NewString(),
		conn:  conn,
		token: token,
	}
	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()
	return sub.id
}

// Activate attaches w to a reserved slot, replays the held notifications
// through it and starts live delivery. It reports false when the slot is
// gone, for instance because the connection was dropped meanwhile.
func (h *Hub) Activate(id string, w *luna.Watcher, push PushFunc) bool {
	h.mu.Lock()
	sub, ok := h.subs[id]
	h.mu.Unlock()
	if !ok {
		return false
	}

	sub.mu.Lock()
	sub.watcher = w
	sub.push = push
	backlog := sub.backlog
	sub.backlog = nil
	delivered := true
	for _, n := range backlog {
		if !h.deliver(sub, n) {
			delivered = false
			break
		}
	}
	sub.mu.Unlock()

	if !delivered {
		h.logger.Warnw("Dropping subscriptions of unresponsive connection", "connection_id", sub.conn)
		h.Drop(sub.conn)
		return false
	}

	h.logger.Debugw("Subscription added",
		"subscription_id", sub.id,
		"connection_id", sub.conn,
		"method", w.Method,
		"stream", w.Stream,
		"replayed", len(backlog),
	)
	return true
}

// Release discards a reserved slot that did not become a subscription.
func (h *Hub) Release(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Subscribe registers w for the call identified by conn and token and
// returns the subscription id.
func (h *Hub) Subscribe(conn string, token int64, w *luna.Watcher, push PushFunc) string {
	id := h.Reserve(conn, token)
	h.Activate(id, w, push)
	return id
}

// Cancel removes the subscription opened by token on conn.
func (h *Hub) Cancel(conn string, token int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		if sub.conn == conn && sub.token == token && sub.active() {
			delete(h.subs, id)
			return true
		}
	}
	return false
}

// Drop removes every subscription of conn and reports how many there were.
func (h *Hub) Drop(conn string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id, sub := range h.subs {
		if sub.conn == conn {
			delete(h.subs, id)
			n++
		}
	}
	return n
}

// Count reports active subscriptions. Reserved slots are not counted.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, sub := range h.subs {
		if sub.active() {
			n++
		}
	}
	return n
}

func (h *Hub) Notify(_ context.Context, n domain.StatusNotification) {
	h.mu.Lock()
	h.pending = append(h.pending, n)
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run delivers queued notifications until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.wake:
			h.flush()
		}
	}
}

func (h *Hub) flush() {
	h.mu.Lock()
	batch := h.pending
	h.pending = nil
	subs := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, n := range batch {
		for _, sub := range subs {
			sub.mu.Lock()
			if sub.watcher == nil {
				sub.backlog = append(sub.backlog, n)
				sub.mu.Unlock()
				continue
			}
			ok := h.deliver(sub, n)
			sub.mu.Unlock()
			if !ok {
				h.logger.Warnw("Dropping subscriptions of unresponsive connection", "connection_id", sub.conn)
				h.Drop(sub.conn)
			}
		}
	}
}

// deliver renders n for sub and pushes it. Caller holds sub.mu.
func (h *Hub) deliver(sub *subscription, n domain.StatusNotification) bool {
	reply, ok := sub.watcher.Render(n)
	if !ok {
		return true
	}
	return sub.push(sub.token, reply)
}
