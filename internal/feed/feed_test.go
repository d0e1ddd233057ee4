package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanguard/internal/common"
)

type recorder struct {
	id     string
	mu     sync.Mutex
	events []Event
	fail   bool
	block  bool
	closed bool
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Send(ctx context.Context, ev Event) error {
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if r.fail {
		return errors.New("broken pipe")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) event(i int) Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[i]
}

func entry(score int) Entry {
	level := common.RiskSafe
	switch {
	case score > 70:
		level = common.RiskDangerous
	case score > 30:
		level = common.RiskSuspicious
	}
	return Entry{Channel: common.ChannelURL, RiskScore: score, RiskLevel: level, URL: fmt.Sprintf("https://e%d.example/", score)}
}

func testHub(t *testing.T) *Hub {
	t.Helper()
	cfg := DefaultHubConfig()
	cfg.SendTimeout = 50 * time.Millisecond
	return NewHub(cfg)
}

func TestFeedCapacity(t *testing.T) {
	t.Parallel()

	f := NewFeed(100)
	for i := 0; i < 150; i++ {
		f.Insert(Entry{RiskScore: i})
	}
	assert.Equal(t, 100, f.Len())

	all := f.Recent(0)
	require.Len(t, all, 100)
	for i, e := range all {
		assert.Equal(t, 149-i, e.RiskScore)
		assert.NotEmpty(t, e.ID)
	}
	assert.Len(t, f.Recent(10), 10)
	assert.Equal(t, 149, f.Recent(1)[0].RiskScore)
}

func TestFeedStats(t *testing.T) {
	t.Parallel()

	f := NewFeed(10)
	for _, s := range []int{90, 80, 50, 10} {
		f.Insert(entry(s))
	}
	assert.Equal(t, Stats{Total: 4, Dangerous: 2, Suspicious: 1, Safe: 1}, f.Stats())
	assert.Equal(t, Stats{}, NewFeed(0).Stats())
	assert.Equal(t, DefaultCapacity, NewFeed(0).Cap())
}

func TestBroadcastScenario(t *testing.T) {
	t.Parallel()

	h := testHub(t)
	s1 := &recorder{id: "s1"}
	require.NoError(t, h.Register(s1, 10))

	h.Publish(entry(80))
	h.Publish(entry(40))

	assert.Equal(t, []EventType{EventConnected, EventInitialFeed, EventThreatAlert, EventScan}, s1.types())
	assert.Equal(t, 80, s1.event(2).Data.(Entry).RiskScore)
	assert.Equal(t, 40, s1.event(3).Data.(Entry).RiskScore)

	recent := h.Recent(10)
	require.Len(t, recent, 2)
	assert.Equal(t, 40, recent[0].RiskScore)
	assert.Equal(t, "high", recent[1].Severity)
}

func TestSafeResultsBroadcastButNotStored(t *testing.T) {
	t.Parallel()

	h := testHub(t)
	s := &recorder{id: "s"}
	require.NoError(t, h.Register(s, 0))

	h.Publish(entry(5))
	assert.Empty(t, h.Recent(0))
	assert.Equal(t, EventScan, s.types()[2])
}

func TestRegisterSnapshot(t *testing.T) {
	t.Parallel()

	h := testHub(t)
	for _, score := range []int{50, 60, 90} {
		h.Publish(entry(score))
	}

	s := &recorder{id: "late"}
	require.NoError(t, h.Register(s, 2))
	assert.Equal(t, []EventType{EventConnected, EventInitialFeed}, s.types())

	ack := s.event(0).Data.(ConnectedData)
	assert.Equal(t, "late", ack.SubscriberID)
	assert.Equal(t, 3, ack.FeedSize)

	snap := s.event(1).Data.(InitialFeedData)
	require.Len(t, snap.Threats, 2)
	assert.Equal(t, 90, snap.Threats[0].RiskScore)
	assert.Equal(t, 60, snap.Threats[1].RiskScore)
	assert.Equal(t, 3, snap.Stats.Total)
}

func TestFailedSendDeregisters(t *testing.T) {
	t.Parallel()

	h := testHub(t)
	good := &recorder{id: "good"}
	bad := &recorder{id: "bad"}
	slow := &recorder{id: "slow"}
	require.NoError(t, h.Register(good, 0))
	require.NoError(t, h.Register(bad, 0))
	require.NoError(t, h.Register(slow, 0))
	assert.Equal(t, 3, h.SubscriberCount())

	bad.fail = true
	slow.block = true
	h.Publish(entry(90))

	assert.Equal(t, 1, h.SubscriberCount())
	assert.True(t, bad.closed)
	assert.True(t, slow.closed)

	h.Publish(entry(91))
	assert.Len(t, good.types(), 4)
}

func TestRegisterFailureNotRegistered(t *testing.T) {
	t.Parallel()

	h := testHub(t)
	err := h.Register(&recorder{id: "x", fail: true}, 0)
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Zero(t, h.SubscriberCount())
}

func TestHubClose(t *testing.T) {
	t.Parallel()

	h := testHub(t)
	s := &recorder{id: "s"}
	require.NoError(t, h.Register(s, 0))
	h.Close()
	assert.True(t, s.closed)
	assert.ErrorIs(t, h.Register(&recorder{id: "t"}, 0), ErrHubClosed)

	h.Publish(entry(99))
	assert.Len(t, h.Recent(0), 1)
	h.Close()
}

func TestHeartbeatAndStats(t *testing.T) {
	t.Parallel()

	h := testHub(t)
	s := &recorder{id: "s"}
	require.NoError(t, h.Register(s, 0))
	h.Heartbeat()
	h.BroadcastStats()

	assert.Equal(t, []EventType{EventConnected, EventInitialFeed, EventHeartbeat, EventStats}, s.types())
	assert.Equal(t, 1, s.event(2).Data.(HeartbeatData).Subscribers)
}

func TestEventTimestampFormat(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 2, 3, 4, 5, 600, time.FixedZone("x", 3600))
	ev := newEvent(EventHeartbeat, at, nil)
	assert.Equal(t, "2026-01-02T02:04:05.0000006Z", ev.Timestamp)

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"heartbeat","timestamp":"2026-01-02T02:04:05.0000006Z","data":null}`, string(data))
}

func TestConcurrentPublish(t *testing.T) {
	t.Parallel()

	h := testHub(t)
	s := &recorder{id: "s"}
	require.NoError(t, h.Register(s, 0))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.Publish(entry(31 + i))
		}(i)
	}
	wg.Wait()
	assert.Len(t, h.Recent(0), 20)
	assert.Len(t, s.types(), 22)
}

func TestWSSubscriber(t *testing.T) {
	t.Parallel()

	h := testHub(t)
	h.Publish(entry(75))

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sub := NewWSSubscriber(conn, 8, nil)
		if err := h.Register(sub, 10); err != nil {
			return
		}
		sub.ReadPump()
		h.Unregister(sub.ID())
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	read := func() map[string]any {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var m map[string]any
		require.NoError(t, conn.ReadJSON(&m))
		return m
	}
	assert.Equal(t, "connection_established", read()["type"])
	initial := read()
	assert.Equal(t, "initial_feed", initial["type"])
	threats := initial["data"].(map[string]any)["threats"].([]any)
	assert.Len(t, threats, 1)

	h.Publish(entry(85))
	alert := read()
	assert.Equal(t, "threat_alert", alert["type"])
	assert.EqualValues(t, 85, alert["data"].(map[string]any)["risk_score"])

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
