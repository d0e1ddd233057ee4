package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanguard/internal/common"
	"scanguard/internal/detection"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, ErrUnavailable
}
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return ErrUnavailable
}
func (failingStore) Delete(context.Context, string) error { return ErrUnavailable }
func (failingStore) Close() error                         { return nil }

func sampleResult() *detection.AnalysisResult {
	return &detection.AnalysisResult{
		Channel:           common.ChannelURL,
		NormalizedContent: "https://github.com/",
		RiskScore:         5,
		RiskLevel:         common.RiskSafe,
		Explanation:       "ok",
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	k := Fingerprint("scanguard", "url", []byte("https://github.com/"))
	parts := strings.Split(k, ":")
	require.Len(t, parts, 3)
	assert.Equal(t, "scanguard", parts[0])
	assert.Equal(t, "url", parts[1])
	assert.Len(t, parts[2], 64)

	assert.Equal(t, k, Fingerprint("scanguard", "url", []byte("https://github.com/")))
	assert.NotEqual(t, k, Fingerprint("scanguard", "sms", []byte("https://github.com/")))
}

func TestResultCacheTTL(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New(NewMemoryStore(10, WithClock(clock.Now)))
	ctx := context.Background()
	key := c.Key("url", []byte("https://github.com/"))

	_, ok := c.GetResult(ctx, key)
	assert.False(t, ok)

	c.SetResult(ctx, key, sampleResult())
	got, ok := c.GetResult(ctx, key)
	require.True(t, ok)
	assert.Equal(t, 5, got.RiskScore)
	assert.Equal(t, common.RiskSafe, got.RiskLevel)

	clock.Advance(59 * time.Minute)
	_, ok = c.GetResult(ctx, key)
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok = c.GetResult(ctx, key)
	assert.False(t, ok, "entries expire after the scan TTL")
}

func TestReputationTTL(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New(NewMemoryStore(10, WithClock(clock.Now)))
	ctx := context.Background()

	type verdict struct{ Malicious bool }
	c.Put(ctx, "rep:evil.example", verdict{Malicious: true}, 0)

	clock.Advance(23 * time.Hour)
	var v verdict
	require.True(t, c.Lookup(ctx, "rep:evil.example", &v))
	assert.True(t, v.Malicious)

	clock.Advance(2 * time.Hour)
	assert.False(t, c.Lookup(ctx, "rep:evil.example", &v))
}

func TestDegradedCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, c := range map[string]*ResultCache{
		"nil store":     New(nil),
		"failing store": New(failingStore{}),
	} {
		t.Run(name, func(t *testing.T) {
			key := c.Key("url", []byte("x"))
			assert.NotPanics(t, func() { c.SetResult(ctx, key, sampleResult()) })
			_, ok := c.GetResult(ctx, key)
			assert.False(t, ok)
			assert.NoError(t, c.Close())
		})
	}
	assert.False(t, New(nil).Available())
}

func TestResultCacheStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := New(NewMemoryStore(10))
	key := c.Key("url", []byte("x"))
	_, ok := c.GetResult(ctx, key)
	require.False(t, ok)
	c.SetResult(ctx, key, sampleResult())
	_, ok = c.GetResult(ctx, key)
	require.True(t, ok)

	st, ok := c.Stats()
	require.True(t, ok)
	assert.Equal(t, Stats{Entries: 1, Hits: 1, Misses: 1}, st)

	_, ok = New(failingStore{}).Stats()
	assert.False(t, ok)
}

func TestMemoryStoreLRU(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := NewMemoryStore(2)
	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Hour))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Hour))

	_, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Set(ctx, "c", []byte("3"), time.Hour))
	assert.Equal(t, 2, s.Len())

	_, ok, _ = s.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry is evicted")
	v, ok, _ := s.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, s.Delete(ctx, "a"))
	_, ok, _ = s.Get(ctx, "a")
	assert.False(t, ok)

	st := s.Stats()
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, uint64(2), st.Hits)
	assert.Equal(t, uint64(2), st.Misses)

	require.NoError(t, s.Close())
	_, _, err = s.Get(ctx, "c")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestMemoryStoreConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(NewMemoryStore(100))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := c.Key("url", []byte("same"))
			for j := 0; j < 50; j++ {
				c.SetResult(ctx, key, sampleResult())
				_, _ = c.GetResult(ctx, key)
			}
		}()
	}
	wg.Wait()

	got, ok := c.GetResult(ctx, c.Key("url", []byte("same")))
	require.True(t, ok)
	assert.Equal(t, 5, got.RiskScore)
}

func TestBadgerStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)

	c := New(s)
	key := c.Key("email", []byte("hello"))
	c.SetResult(ctx, key, sampleResult())

	got, ok := c.GetResult(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "https://github.com/", got.NormalizedContent)

	require.NoError(t, s.Delete(ctx, key))
	_, ok = c.GetResult(ctx, key)
	assert.False(t, ok)

	require.NoError(t, c.Close())
}

func TestBadgerStoreOnDisk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenBadger(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Hour))
	require.NoError(t, s.Close())

	s, err = OpenBadger(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	_, err = OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}
