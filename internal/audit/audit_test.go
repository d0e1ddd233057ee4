package audit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := OpenSQLite(filepath.Join(t.TempDir(), "audit", "audit.db"))
	require.NoError(t, err)
	defer s.Close()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(ctx, Event{Type: EventBlock, UserID: "u1", Content: "http://evil", RiskScore: 90, RiskLevel: "dangerous", Timestamp: ts}))
	require.NoError(t, s.Append(ctx, Event{Type: EventOverride, UserID: "u2", Content: "x", RiskScore: 50, Reason: "known sender", Timestamp: ts.Add(time.Second)}))

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, EventOverride, got[0].Type)
	assert.Equal(t, "known sender", got[0].Reason)
	assert.Equal(t, EventBlock, got[1].Type)
	assert.Equal(t, "dangerous", got[1].RiskLevel)
	assert.True(t, ts.Equal(got[1].Timestamp))

	got, err = s.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

type memorySink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	err    error
}

func (m *memorySink) Append(_ context.Context, e Event) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *memorySink) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestRecorderDrainsOnClose(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	r := NewRecorder(sink, 10, nil)
	for i := 0; i < 5; i++ {
		assert.True(t, r.Record(Event{Type: EventBlock, RiskScore: i}))
	}
	r.Close()
	assert.Equal(t, 5, sink.len())
	assert.False(t, r.Record(Event{Type: EventBlock}), "closed recorder rejects events")
	r.Close()
}

func TestRecorderDropsWhenFull(t *testing.T) {
	t.Parallel()

	sink := &memorySink{block: make(chan struct{})}
	r := NewRecorder(sink, 1, nil)

	accepted := 0
	for i := 0; i < 10; i++ {
		if r.Record(Event{Type: EventOverride}) {
			accepted++
		}
	}
	// One event may be held by the writer and one by the queue.
	assert.LessOrEqual(t, accepted, 2)
	assert.GreaterOrEqual(t, accepted, 1)

	close(sink.block)
	r.Close()
	assert.Equal(t, accepted, sink.len())
}

func TestRecorderSurvivesSinkErrors(t *testing.T) {
	t.Parallel()

	sink := &memorySink{err: errors.New("disk full")}
	r := NewRecorder(sink, 4, nil)
	r.Record(Event{Type: EventBlock})
	r.Record(Event{Type: EventBlock})
	r.Close()
	assert.Equal(t, 2, sink.len())
}
