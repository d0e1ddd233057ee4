package signals

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanguard/internal/cache"
	"scanguard/internal/common"
	"scanguard/internal/detection"
	"scanguard/internal/normalize"
	"scanguard/internal/risk"
	"scanguard/internal/threat"
)

var seen = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func urlResult(t *testing.T, raw string) (normalize.Input, *detection.AnalysisResult) {
	t.Helper()
	in, err := normalize.New().Normalize(common.ChannelURL, raw, "")
	require.NoError(t, err)
	res, err := detection.NewURLAnalyzer(detection.DefaultKeywords()).Analyze(context.Background(), in)
	require.NoError(t, err)
	return in, res
}

func TestCircuitBreaker(t *testing.T) {
	t.Parallel()

	now := seen
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow(), "one probe after the timeout")
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one probe at a time")

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Minute)
	require.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, "closed", cb.State().String())
}

func TestHostsAndParents(t *testing.T) {
	t.Parallel()

	r := &detection.AnalysisResult{Details: detection.Details{SMS: &detection.SMSDetails{
		URLs: detection.EmbeddedURLReport{URLs: []string{"bit.ly/abc", "https://Login.Evil.Example/x", "bit.ly/def"}},
	}}}
	assert.Equal(t, []string{"bit.ly", "login.evil.example"}, Hosts(r))

	assert.Equal(t, []string{"a.b.example.com", "b.example.com", "example.com"}, parents("a.b.example.com"))
	assert.Equal(t, []string{"10.0.0.1"}, parents("10.0.0.1"))
}

func TestReputationLocalHit(t *testing.T) {
	t.Parallel()

	rep := NewReputation()
	rep.Load([]threat.ThreatIndicator{threat.NewIndicator("evil.example", threat.TypeDomain, "urlhaus", seen)})
	assert.Equal(t, 1, rep.Len())

	in, res := urlResult(t, "https://secure.evil.example/path")
	f, err := rep.Factors(context.Background(), in, res)
	require.NoError(t, err)
	require.Len(t, f, 1)
	assert.Equal(t, FactorKnownMalicious, f[0].Name)
	assert.Equal(t, 30, f[0].Weight)
	assert.Equal(t, common.ImpactNegative, f[0].Impact)

	_, ok := rep.Known("example")
	assert.False(t, ok)

	in, res = urlResult(t, "https://github.com/")
	f, err = rep.Factors(context.Background(), in, res)
	require.NoError(t, err)
	assert.Empty(t, f)
}

func TestReputationLoadFrom(t *testing.T) {
	t.Parallel()

	store := threat.NewMemoryStore()
	require.NoError(t, store.SaveIndicators(context.Background(), []threat.ThreatIndicator{
		threat.NewIndicator("a.example", threat.TypeDomain, "file", seen),
		threat.NewIndicator("b.example", threat.TypeDomain, "file", seen),
	}))
	rep := NewReputation()
	n, err := rep.LoadFrom(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, ok := rep.Known("www.b.example")
	assert.True(t, ok)
}

type fakeLookup struct {
	mu    sync.Mutex
	calls int
	rep   threat.HostReport
	err   error
}

func (f *fakeLookup) LookupHost(_ context.Context, host string) (threat.HostReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	r := f.rep
	r.Host = host
	return r, f.err
}

func TestReputationRemoteCached(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{rep: threat.HostReport{Malicious: true, Detections: []string{"URLhaus database contains 3 malicious URL(s) from this domain"}}}
	rc := cache.New(cache.NewMemoryStore(100))
	rep := NewReputation(WithRemote(lookup, rc))

	in, res := urlResult(t, "https://remote-bad.example/")
	for i := 0; i < 3; i++ {
		f, err := rep.Factors(context.Background(), in, res)
		require.NoError(t, err)
		require.Len(t, f, 1)
		assert.Equal(t, "URLhaus database contains 3 malicious URL(s) from this domain", f[0].Description)
	}
	assert.Equal(t, 1, lookup.calls, "later lookups are served from the cache")
}

func TestReputationRemoteFailureOpensBreaker(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{err: errors.New("timeout")}
	rep := NewReputation(WithRemote(lookup, nil), WithBreaker(NewCircuitBreaker(1, time.Hour)))
	in, res := urlResult(t, "https://x.example/")

	_, err := rep.Factors(context.Background(), in, res)
	require.Error(t, err)
	_, err = rep.Factors(context.Background(), in, res)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, lookup.calls)
}

type failingSource struct{}

func (failingSource) Name() string { return "failing" }
func (failingSource) Factors(context.Context, normalize.Input, *detection.AnalysisResult) ([]risk.RiskFactor, error) {
	return nil, errors.New("boom")
}

type fixedSource struct{ f risk.RiskFactor }

func (fixedSource) Name() string { return "fixed" }
func (s fixedSource) Factors(context.Context, normalize.Input, *detection.AnalysisResult) ([]risk.RiskFactor, error) {
	return []risk.RiskFactor{s.f}, nil
}

func TestCollectSkipsFailures(t *testing.T) {
	t.Parallel()

	in, res := urlResult(t, "https://github.com/")
	f := Collect(context.Background(), []Source{failingSource{}, fixedSource{risk.Negative("x", 10, "")}}, in, res, nil)
	require.Len(t, f, 1)
	assert.Equal(t, "x", f[0].Name)
}

func TestClassifier(t *testing.T) {
	t.Parallel()

	m := DefaultModel()
	assert.InDelta(t, 0.5, m.Predict("nothing known here"), 1e-9)

	c := NewClassifier(nil)
	in := normalize.Input{Channel: common.ChannelEmail, Content: "URGENT: verify your account password immediately or it will be suspended"}
	f, err := c.Factors(context.Background(), in, nil)
	require.NoError(t, err)
	require.Len(t, f, 1)
	assert.Equal(t, FactorMLPhishing, f[0].Name)
	assert.Equal(t, common.ImpactNegative, f[0].Impact)
	assert.Equal(t, 20, f[0].Weight)

	in = normalize.Input{Channel: common.ChannelEmail, Content: "Thanks for lunch, see the agenda for the meeting tomorrow. Regards"}
	f, err = c.Factors(context.Background(), in, nil)
	require.NoError(t, err)
	require.Len(t, f, 1)
	assert.Equal(t, FactorMLLegitimate, f[0].Name)
	assert.Equal(t, 10, f[0].Weight)

	assert.Empty(t, c.factorFor(0.5))
	assert.Equal(t, 14, c.factorFor(0.7)[0].Weight)
}

func TestLoadModel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"bias": 1, "weights": {"hello": -3}}`), 0o600))
	m, err := LoadModel(path)
	require.NoError(t, err)
	assert.Less(t, m.Predict("hello"), 0.3)
	assert.Greater(t, m.Predict("other"), 0.7)

	require.NoError(t, os.WriteFile(path, []byte(`{"bias": 1}`), 0o600))
	_, err = LoadModel(path)
	assert.Error(t, err)
}
