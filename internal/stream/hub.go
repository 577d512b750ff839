package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/callscribe/callscribe/internal/bus"
	"github.com/callscribe/callscribe/internal/config"
	"github.com/callscribe/callscribe/internal/protocol"
	"github.com/nats-io/nats.go"
)

// backlogLimit caps the number of segment events retained for replay to
// late subscribers within one session.
const backlogLimit = 4096

// Subscriber is one live event consumer, typically a WebSocket
// connection. Send must be safe to call from the hub's dispatch
// context; a Send error marks the subscriber dead.
type Subscriber interface {
	Send(data []byte) error
	Close() error
}

// Hub fans pipeline events out to live subscribers. It listens on the
// bus subjects rather than being called by the pipeline directly, so
// subscribers in any process see the same stream. Segment events are
// retained and replayed to subscribers that attach mid-session; the
// backlog resets when a new session starts recording.
type Hub struct {
	keepalive time.Duration
	log       *slog.Logger

	mu       sync.Mutex
	subs     map[Subscriber]struct{}
	backlog  [][]byte
	lastSend time.Time

	subscriptions []*nats.Subscription
	done          chan struct{}
	closeOnce     sync.Once
}

func NewHub(cfg config.StreamConfig, log *slog.Logger) *Hub {
	return &Hub{
		keepalive: time.Duration(cfg.KeepaliveMS) * time.Millisecond,
		log:       log.With(slog.String("component", "stream")),
		subs:      make(map[Subscriber]struct{}),
		lastSend:  time.Now(),
		done:      make(chan struct{}),
	}
}

// Start attaches the hub to the bus and begins dispatching.
func (h *Hub) Start(bc *bus.Client) error {
	subjects := []string{
		protocol.SubjectSegment,
		protocol.SubjectProgress,
		protocol.SubjectStatus,
		protocol.SubjectQueue,
	}
	for _, subject := range subjects {
		sub, err := bc.Conn().Subscribe(subject, func(msg *nats.Msg) {
			h.Dispatch(msg.Subject, msg.Data)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		h.subscriptions = append(h.subscriptions, sub)
	}

	if h.keepalive > 0 {
		go h.keepaliveLoop()
	}

	h.log.Info("stream hub attached to bus", slog.Int("subjects", len(subjects)))
	return nil
}

// Dispatch routes one raw event to every live subscriber and maintains
// the replay backlog.
func (h *Hub) Dispatch(subject string, data []byte) {
	h.mu.Lock()
	switch subject {
	case protocol.SubjectSegment:
		if len(h.backlog) < backlogLimit {
			buf := make([]byte, len(data))
			copy(buf, data)
			h.backlog = append(h.backlog, buf)
		}
	case protocol.SubjectStatus:
		var evt protocol.Event
		if err := json.Unmarshal(data, &evt); err == nil && evt.Status == protocol.StatusRecording {
			h.backlog = nil
		}
	}
	targets := h.snapshotLocked()
	h.mu.Unlock()

	h.send(targets, data)
}

// Add registers a subscriber. The current session's segment backlog is
// replayed in order before any new event reaches it.
func (h *Hub) Add(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, data := range h.backlog {
		if err := sub.Send(data); err != nil {
			sub.Close()
			return
		}
	}
	h.subs[sub] = struct{}{}
	h.log.Debug("subscriber attached", slog.Int("subscribers", len(h.subs)))
}

// Remove detaches a subscriber without closing it.
func (h *Hub) Remove(sub Subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) snapshotLocked() []Subscriber {
	targets := make([]Subscriber, 0, len(h.subs))
	for sub := range h.subs {
		targets = append(targets, sub)
	}
	return targets
}

func (h *Hub) send(targets []Subscriber, data []byte) {
	for _, sub := range targets {
		if err := sub.Send(data); err != nil {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			sub.Close()
			h.log.Debug("subscriber dropped", slog.String("error", err.Error()))
		}
	}
	h.mu.Lock()
	h.lastSend = time.Now()
	h.mu.Unlock()
}

// pingIfIdle emits one ping event unless a real event already went out
// within the keepalive window. Returns whether a ping was sent.
func (h *Hub) pingIfIdle(now time.Time) bool {
	h.mu.Lock()
	idle := now.Sub(h.lastSend) >= h.keepalive
	targets := h.snapshotLocked()
	h.mu.Unlock()
	if !idle {
		return false
	}

	data, err := json.Marshal(protocol.Event{
		Type:      protocol.EventPing,
		Timestamp: now,
	})
	if err != nil {
		return false
	}
	h.send(targets, data)
	return true
}

// keepaliveLoop pings idle connections so they are not reaped by
// intermediaries and dead subscribers are detected. An active session
// already generates traffic, so pings only fill the gaps.
func (h *Hub) keepaliveLoop() {
	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case now := <-ticker.C:
			h.pingIfIdle(now)
		}
	}
}

// Close detaches from the bus and closes every subscriber.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		for _, sub := range h.subscriptions {
			sub.Unsubscribe()
		}
		h.mu.Lock()
		targets := h.snapshotLocked()
		h.subs = make(map[Subscriber]struct{})
		h.mu.Unlock()
		for _, sub := range targets {
			sub.Close()
		}
	})
}
