package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanguard/internal/cache"
	"scanguard/internal/common"
	"scanguard/internal/detection"
	"scanguard/internal/feed"
	"scanguard/internal/normalize"
	"scanguard/internal/policy"
	"scanguard/internal/signals"
	"scanguard/internal/threat"
)

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}
func (brokenStore) Delete(context.Context, string) error { return nil }
func (brokenStore) Close() error                         { return nil }

type sink struct{ events []feed.Event }

func (s *sink) ID() string { return "sink" }
func (s *sink) Send(_ context.Context, ev feed.Event) error {
	s.events = append(s.events, ev)
	return nil
}
func (s *sink) Close() error { return nil }

func newService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	base := []Option{WithCache(cache.New(cache.NewMemoryStore(100)))}
	return New(detection.NewDetector(), append(base, opts...)...)
}

func TestAnalyzeDangerousURL(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	rep, err := svc.Analyze(context.Background(), Request{Channel: common.ChannelURL, Content: "  http://192.168.1.5/verify-account "})
	require.NoError(t, err)
	assert.False(t, rep.Cached)
	assert.Equal(t, 100, rep.RiskScore)
	assert.Equal(t, common.RiskDangerous, rep.RiskLevel)
	assert.Equal(t, policy.ActionBlock, rep.Decision.Action)
	assert.Equal(t, "192.168.1.5", rep.Decision.Domain)
}

func TestAnalyzeTrustedURL(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	rep, err := svc.Analyze(context.Background(), Request{Channel: common.ChannelURL, Content: "https://github.com/"})
	require.NoError(t, err)
	assert.Equal(t, 5, rep.RiskScore)
	assert.Equal(t, policy.ActionAllow, rep.Decision.Action)
	assert.False(t, rep.Decision.AllowOverride)
}

func TestAnalyzeEmail(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	rep, err := svc.Analyze(context.Background(), Request{
		Channel: common.ChannelEmail,
		Content: "URGENT: Your account has been suspended. Verify your password immediately at http://192.168.0.10/login",
		Sender:  "security@paypa1-alerts.com",
	})
	require.NoError(t, err)
	assert.Equal(t, 100, rep.RiskScore)
	assert.Equal(t, policy.ActionBlock, rep.Decision.Action)
}

func TestAnalyzeRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	_, err := svc.Analyze(context.Background(), Request{Channel: common.ChannelURL, Content: "   "})
	assert.ErrorIs(t, err, normalize.ErrInvalidContent)

	_, err = svc.Analyze(context.Background(), Request{Channel: "fax", Content: "hello"})
	assert.ErrorIs(t, err, normalize.ErrInvalidContent)
}

func TestCacheHit(t *testing.T) {
	t.Parallel()

	hub := feed.NewHub(feed.DefaultHubConfig())
	svc := newService(t, WithHub(hub))
	req := Request{Channel: common.ChannelURL, Content: "https://bit.ly/abc"}

	first, err := svc.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.RiskScore, second.RiskScore)
	assert.Equal(t, first.Factors, second.Factors)
	assert.Equal(t, first.Decision.Action, second.Decision.Action)

	assert.Len(t, svc.RecentFeed(0), 1, "cache hits are not republished")
}

func TestDifferentSenderMisses(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	body := "Your package is waiting, reply YES"
	_, err := svc.Analyze(context.Background(), Request{Channel: common.ChannelSMS, Content: body, Sender: "+15550001"})
	require.NoError(t, err)
	rep, err := svc.Analyze(context.Background(), Request{Channel: common.ChannelSMS, Content: body, Sender: "+15550002"})
	require.NoError(t, err)
	assert.False(t, rep.Cached)
}

func TestDegradedCache(t *testing.T) {
	t.Parallel()

	svc := New(detection.NewDetector(), WithCache(cache.New(brokenStore{})))
	req := Request{Channel: common.ChannelURL, Content: "https://github.com/"}
	for i := 0; i < 2; i++ {
		rep, err := svc.Analyze(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, rep.Cached)
		assert.Equal(t, 5, rep.RiskScore)
	}

	rep, err := New(detection.NewDetector()).Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, rep.Cached)
}

func TestReputationSource(t *testing.T) {
	t.Parallel()

	rep := signals.NewReputation()
	rep.Load([]threat.ThreatIndicator{
		threat.NewIndicator("evil.example", threat.TypeDomain, "test", time.Now()),
	})
	plain := newService(t)
	withRep := newService(t, WithSources(rep))

	req := Request{Channel: common.ChannelURL, Content: "https://secure.evil.example/path"}
	a, err := plain.Analyze(context.Background(), req)
	require.NoError(t, err)
	b, err := withRep.Analyze(context.Background(), req)
	require.NoError(t, err)

	names := make([]string, 0, len(b.Factors))
	for _, f := range b.Factors {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, signals.FactorKnownMalicious)
	assert.Equal(t, min(100, a.RiskScore+30), b.RiskScore)
}

func TestPublishToFeed(t *testing.T) {
	t.Parallel()

	hub := feed.NewHub(feed.DefaultHubConfig())
	svc := newService(t, WithHub(hub))
	s := &sink{}
	require.NoError(t, svc.Subscribe(s, 10))

	_, err := svc.Analyze(context.Background(), Request{Channel: common.ChannelURL, Content: "http://192.168.1.5/verify-account"})
	require.NoError(t, err)
	_, err = svc.Analyze(context.Background(), Request{Channel: common.ChannelURL, Content: "https://github.com/"})
	require.NoError(t, err)

	require.Len(t, s.events, 4)
	assert.Equal(t, feed.EventThreatAlert, s.events[2].Type)
	assert.Equal(t, feed.EventScan, s.events[3].Type)

	recent := svc.RecentFeed(10)
	require.Len(t, recent, 1)
	assert.Equal(t, "192.168.1.5", recent[0].Domain)
	assert.Equal(t, feed.Stats{Total: 1, Dangerous: 1}, svc.FeedStats())
}

func TestServiceWithoutHub(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	assert.ErrorIs(t, svc.Subscribe(&sink{}, 0), feed.ErrHubClosed)
	assert.Nil(t, svc.RecentFeed(10))
	assert.Equal(t, feed.Stats{}, svc.FeedStats())
	svc.Unsubscribe("nobody")
}

func TestDecideNamedPolicy(t *testing.T) {
	t.Parallel()

	engine := policy.NewEngine()
	autoBlock := false
	_, err := engine.CreatePolicy("lenient", policy.Config{AutoBlockDangerous: &autoBlock})
	require.NoError(t, err)

	svc := newService(t, WithPolicies(engine))
	rep, err := svc.Analyze(context.Background(), Request{Channel: common.ChannelURL, Content: "http://192.168.1.5/verify-account", Policy: "lenient"})
	require.NoError(t, err)
	assert.Equal(t, policy.ActionAllow, rep.Decision.Action)

	ev := svc.Decide(rep.AnalysisResult, "")
	assert.Equal(t, policy.ActionBlock, ev.Action)
}

func TestAnalyzeBatchKeepsOrder(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	reqs := []Request{
		{Channel: common.ChannelURL, Content: "http://192.168.1.5/verify-account"},
		{Channel: common.ChannelURL, Content: ""},
		{Channel: common.ChannelURL, Content: "https://github.com/"},
		{Channel: common.ChannelSMS, Content: "Hi, see you at 6"},
	}
	items, err := svc.AnalyzeBatch(context.Background(), reqs, 3)
	require.NoError(t, err)
	require.Len(t, items, 4)

	for i, it := range items {
		assert.Equal(t, i, it.Index)
	}
	assert.Equal(t, 100, items[0].Report.RiskScore)
	assert.ErrorIs(t, items[1].Err(), normalize.ErrInvalidContent)
	assert.NotEmpty(t, items[1].Error)
	assert.Nil(t, items[1].Report)
	assert.Equal(t, 5, items[2].Report.RiskScore)
	assert.Equal(t, common.ChannelSMS, items[3].Report.Channel)
}

func TestAnalyzeBatchLimits(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	items, err := svc.AnalyzeBatch(context.Background(), nil, 4)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = svc.AnalyzeBatch(context.Background(), make([]Request, MaxBatchSize+1), 4)
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestAnalyzeBatchCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	items, err := newService(t).AnalyzeBatch(ctx, []Request{{Channel: common.ChannelURL, Content: "https://github.com/"}}, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, items[0].Err(), context.Canceled)
}

func TestWorkerPool(t *testing.T) {
	t.Parallel()

	pool := NewWorkerPool(0, 10, func(j Job) Result { return Result{JobID: j.ID * 2} })
	pool.Start()
	for i := 0; i < 5; i++ {
		pool.Submit(Job{ID: i})
	}
	sum := 0
	for i := 0; i < 5; i++ {
		sum += (<-pool.Results()).JobID
	}
	pool.Stop()
	assert.Equal(t, 20, sum)
	_, open := <-pool.Results()
	assert.False(t, open)
}
