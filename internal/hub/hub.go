package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"torrentd/internal/domain"
)

// Subscriber is one connected push channel. Send must be safe for
// concurrent use; the hub may deliver from several goroutines.
type Subscriber interface {
	Send(data []byte) error
	Close() error
}

// SnapshotSource produces the job list broadcast to subscribers.
type SnapshotSource interface {
	Snapshot() []domain.Job
}

// Hub owns the subscriber set and all fan-out. Every frame is a full
// replacement of the job list. A subscriber whose send fails is dropped
// on the spot, never retried.
type Hub struct {
	source SnapshotSource
	log    *logrus.Logger

	mu   sync.RWMutex
	subs map[Subscriber]struct{}

	// nowq carries broadcast-now requests. When full, the oldest pending
	// token is dropped so the freshest request always lands; the monitor
	// cadence bounds how stale that can leave subscribers.
	nowq chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(source SnapshotSource, queueSize int, log *logrus.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 16
	}
	if log == nil {
		log = logrus.New()
	}
	return &Hub{
		source: source,
		log:    log,
		subs:   make(map[Subscriber]struct{}),
		nowq:   make(chan struct{}, queueSize),
	}
}

// Start launches the broadcast-now worker.
func (h *Hub) Start(ctx context.Context) {
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go h.run()
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-h.nowq:
			h.Broadcast(h.source.Snapshot())
		}
	}
}

// Close stops the worker and closes every remaining subscriber.
func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()

	h.mu.Lock()
	subs := make([]Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.subs = make(map[Subscriber]struct{})
	h.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
}

// Register adds a subscriber and immediately sends it the current
// snapshot, so new connections never wait out a monitor tick.
func (h *Hub) Register(sub Subscriber) {
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.log.WithField("subscribers", n).Debug("subscriber registered")

	data, err := encode(h.source.Snapshot())
	if err != nil {
		h.log.Errorf("encode snapshot: %v", err)
		return
	}
	if err := sub.Send(data); err != nil {
		h.log.Warnf("initial send failed, dropping subscriber: %v", err)
		h.Unregister(sub)
		_ = sub.Close()
	}
}

// Unregister removes a subscriber. Calling it for an unknown or already
// removed subscriber is harmless.
func (h *Hub) Unregister(sub Subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()
	h.log.WithField("subscribers", n).Debug("subscriber unregistered")
}

// SubscriberCount reports how many push channels are connected.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast serializes the snapshot once and delivers it to every
// subscriber. A failed send drops only that subscriber; the rest still
// get the frame.
func (h *Hub) Broadcast(snapshot []domain.Job) {
	data, err := encode(snapshot)
	if err != nil {
		h.log.Errorf("encode snapshot: %v", err)
		return
	}

	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.Send(data); err != nil {
			h.log.Warnf("send failed, dropping subscriber: %v", err)
			h.Unregister(sub)
			_ = sub.Close()
		}
	}
}

// BroadcastNow queues an immediate out-of-cadence broadcast and returns
// without waiting for fan-out.
func (h *Hub) BroadcastNow() {
	select {
	case h.nowq <- struct{}{}:
		return
	default:
	}
	// Queue full: drop the oldest pending request, then try once more.
	select {
	case <-h.nowq:
	default:
	}
	select {
	case h.nowq <- struct{}{}:
	default:
	}
}

func encode(snapshot []domain.Job) ([]byte, error) {
	if snapshot == nil {
		snapshot = []domain.Job{}
	}
	return json.Marshal(domain.PushMessage{Type: domain.PushMessageUpdate, Torrents: snapshot})
}
