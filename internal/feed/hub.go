package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scanguard/internal/common"
	"scanguard/internal/metrics"
)

var (
	ErrSendFailed = errors.New("feed send failed")
	ErrHubClosed  = errors.New("feed hub closed")
)

const (
	DefaultAlertThreshold    = 60
	DefaultFeedThreshold     = 30
	DefaultSendTimeout       = 2 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
)

// Subscriber is one live client. Send must return once ctx is done.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, ev Event) error
	Close() error
}

type HubConfig struct {
	Capacity int
	// AlertThreshold: scores strictly above it are broadcast as threat_alert.
	AlertThreshold int
	// FeedThreshold: scores strictly above it are inserted into the feed.
	FeedThreshold int
	SendTimeout   time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		Capacity:       DefaultCapacity,
		AlertThreshold: DefaultAlertThreshold,
		FeedThreshold:  DefaultFeedThreshold,
		SendTimeout:    DefaultSendTimeout,
	}
}

// Hub owns the feed and the subscriber set. One mutex serializes feed
// insertion, registration and broadcast issue, so a new subscriber's
// snapshot and later broadcasts never overlap or leave a gap, and each
// subscriber sees events in broadcast order.
type Hub struct {
	cfg    HubConfig
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	feed   *Feed
	subs   map[string]Subscriber
	closed bool
}

func NewHub(cfg HubConfig) *Hub {
	def := DefaultHubConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Hub{
		cfg:    cfg,
		logger: cfg.Logger,
		now:    cfg.Now,
		feed:   NewFeed(cfg.Capacity),
		subs:   make(map[string]Subscriber),
	}
}

// Register sends the connection ack and a snapshot of up to limit entries,
// then adds sub. If either send fails sub is not registered.
func (h *Hub) Register(sub Subscriber, limit int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	if limit <= 0 {
		limit = DefaultSnapshotLimit
	}
	now := h.now()
	ack := newEvent(EventConnected, now, ConnectedData{
		SubscriberID: sub.ID(),
		Message:      "Connected to live threat feed",
		FeedSize:     h.feed.Len(),
	})
	snapshot := newEvent(EventInitialFeed, now, InitialFeedData{
		Threats: h.feed.Recent(limit),
		Stats:   h.feed.Stats(),
	})
	for _, ev := range []Event{ack, snapshot} {
		if err := h.send(sub, ev); err != nil {
			_ = sub.Close()
			return err
		}
	}

	h.subs[sub.ID()] = sub
	metrics.Subscribers.Set(float64(len(h.subs)))
	h.logger.Debug("feed subscriber registered", "subscriber", sub.ID(), "subscribers", len(h.subs))
	return nil
}

// Unregister removes and closes sub, if registered.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

func (h *Hub) removeLocked(id string) {
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	_ = sub.Close()
	metrics.Subscribers.Set(float64(len(h.subs)))
}

// Publish records an analysis. Entries scoring above the feed threshold are
// inserted; every entry is broadcast, as threat_alert when its score is
// above the alert threshold and scan_complete otherwise. It returns the
// stored form of e.
func (h *Hub) Publish(e Entry) Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = h.now().UTC()
	}
	if e.Severity == "" {
		e.Severity = common.SeverityFor(e.RiskScore).String()
	}
	if e.RiskScore > h.cfg.FeedThreshold {
		e = h.feed.Insert(e)
		metrics.FeedEntries.Set(float64(h.feed.Len()))
	}
	if h.closed {
		return e
	}

	typ := EventScan
	if e.RiskScore > h.cfg.AlertThreshold {
		typ = EventThreatAlert
	}
	h.broadcastLocked(newEvent(typ, h.now(), e))
	return e
}

// BroadcastStats pushes the current feed statistics.
func (h *Hub) BroadcastStats() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.broadcastLocked(newEvent(EventStats, h.now(), h.feed.Stats()))
}

// Heartbeat pushes a heartbeat; dead subscribers are dropped as a side
// effect.
func (h *Hub) Heartbeat() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.broadcastLocked(newEvent(EventHeartbeat, h.now(), HeartbeatData{Subscribers: len(h.subs)}))
}

// broadcastLocked sends ev to a snapshot of subscribers concurrently and
// waits for every send to finish or time out. Failed subscribers are
// deregistered and never retried.
func (h *Hub) broadcastLocked(ev Event) {
	if len(h.subs) == 0 {
		return
	}
	targets := make([]Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, s)
	}

	var (
		wg     sync.WaitGroup
		failMu sync.Mutex
		failed []string
	)
	for _, s := range targets {
		wg.Add(1)
		go func(s Subscriber) {
			defer wg.Done()
			if err := h.send(s, ev); err != nil {
				failMu.Lock()
				failed = append(failed, s.ID())
				failMu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	metrics.BroadcastEvents.WithLabelValues(string(ev.Type)).Inc()
	for _, id := range failed {
		h.logger.Debug("dropping feed subscriber after failed send", "subscriber", id, "event", ev.Type)
		metrics.SubscriberDrops.Inc()
		h.removeLocked(id)
	}
}

func (h *Hub) send(s Subscriber, ev Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SendTimeout)
	defer cancel()
	if err := s.Send(ctx, ev); err != nil {
		if errors.Is(err, ErrSendFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Recent returns up to limit feed entries, newest first.
func (h *Hub) Recent(limit int) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.feed.Recent(limit)
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.feed.Stats()
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Run sends a heartbeat followed by a stats update every interval until ctx
// is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Heartbeat()
			h.BroadcastStats()
		}
	}
}

// Close disconnects every subscriber. Later registrations fail with
// ErrHubClosed; the feed stays readable.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id := range h.subs {
		h.removeLocked(id)
	}
}
