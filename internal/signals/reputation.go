package signals

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/willf/bloom"

	"scanguard/internal/cache"
	"scanguard/internal/detection"
	"scanguard/internal/metrics"
	"scanguard/internal/normalize"
	"scanguard/internal/risk"
	"scanguard/internal/threat"
)

const (
	FactorKnownMalicious = "Known Malicious Domain"
	knownMaliciousWeight = risk.WeightCritical

	bloomFalsePositive = 0.001
	minBloomCapacity   = 1024
)

// HostLookup answers reputation queries for a single host.
type HostLookup interface {
	LookupHost(ctx context.Context, host string) (threat.HostReport, error)
}

// Reputation flags hosts found in loaded threat indicators, and optionally
// asks a remote service about the primary host when no local entry matches.
// Remote answers are cached for the cache's reputation TTL.
type Reputation struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	exact  map[string]threat.ThreatIndicator

	remote  HostLookup
	cache   *cache.ResultCache
	breaker *CircuitBreaker
	logger  *slog.Logger

	probes    atomic.Uint64
	confirmed atomic.Uint64
}

type ReputationOption func(*Reputation)

// WithRemote enables remote lookups through l. Answers are cached in c,
// which may be nil.
func WithRemote(l HostLookup, c *cache.ResultCache) ReputationOption {
	return func(r *Reputation) {
		r.remote = l
		r.cache = c
	}
}

func WithBreaker(cb *CircuitBreaker) ReputationOption {
	return func(r *Reputation) { r.breaker = cb }
}

func WithReputationLogger(l *slog.Logger) ReputationOption {
	return func(r *Reputation) { r.logger = l }
}

func NewReputation(opts ...ReputationOption) *Reputation {
	r := &Reputation{
		filter:  bloom.NewWithEstimates(minBloomCapacity, bloomFalsePositive),
		exact:   make(map[string]threat.ThreatIndicator),
		breaker: NewCircuitBreaker(5, time.Minute),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reputation) Name() string { return "reputation" }

// Load replaces the indicator set.
func (r *Reputation) Load(indicators []threat.ThreatIndicator) {
	n := uint(len(indicators))
	if n < minBloomCapacity {
		n = minBloomCapacity
	}
	filter := bloom.NewWithEstimates(n, bloomFalsePositive)
	exact := make(map[string]threat.ThreatIndicator, len(indicators))
	for _, i := range indicators {
		key := threat.NormalizeHost(i.Indicator)
		filter.AddString(key)
		exact[key] = i
	}

	r.mu.Lock()
	r.filter, r.exact = filter, exact
	r.mu.Unlock()
}

// LoadFrom reads every indicator from l and loads them.
func (r *Reputation) LoadFrom(ctx context.Context, l threat.IndicatorLister) (int, error) {
	ind, err := l.Indicators(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading indicators: %w", err)
	}
	r.Load(ind)
	return len(ind), nil
}

func (r *Reputation) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.exact)
}

// Known reports whether host or one of its parent domains is listed.
func (r *Reputation) Known(host string) (threat.ThreatIndicator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, h := range parents(threat.NormalizeHost(host)) {
		if !r.filter.TestString(h) {
			continue
		}
		r.probes.Add(1)
		if ind, ok := r.exact[h]; ok {
			r.confirmed.Add(1)
			r.recordRatio()
			return ind, true
		}
		r.recordRatio()
	}
	return threat.ThreatIndicator{}, false
}

func (r *Reputation) recordRatio() {
	if p := r.probes.Load(); p > 0 {
		metrics.BloomFilterHitRatio.WithLabelValues("indicators").Set(float64(r.confirmed.Load()) / float64(p))
	}
}

func (r *Reputation) Factors(ctx context.Context, _ normalize.Input, res *detection.AnalysisResult) ([]risk.RiskFactor, error) {
	hosts := Hosts(res)
	if len(hosts) == 0 {
		return nil, nil
	}

	for _, h := range hosts {
		if ind, ok := r.Known(h); ok {
			metrics.ReputationLookups.WithLabelValues("local", "hit").Inc()
			return []risk.RiskFactor{risk.Negative(FactorKnownMalicious, knownMaliciousWeight,
				fmt.Sprintf("%s is listed by %s", ind.Indicator, ind.Source))}, nil
		}
	}
	metrics.ReputationLookups.WithLabelValues("local", "miss").Inc()

	if r.remote == nil {
		return nil, nil
	}
	rep, err := r.lookupRemote(ctx, hosts[0])
	if err != nil {
		return nil, err
	}
	if !rep.Malicious {
		return nil, nil
	}
	desc := fmt.Sprintf("%s is listed by URLhaus", rep.Host)
	if len(rep.Detections) > 0 {
		desc = rep.Detections[0]
	}
	return []risk.RiskFactor{risk.Negative(FactorKnownMalicious, knownMaliciousWeight, desc)}, nil
}

func (r *Reputation) lookupRemote(ctx context.Context, host string) (threat.HostReport, error) {
	var rep threat.HostReport
	key := ""
	if r.cache != nil {
		key = r.cache.Key("reputation", []byte(host))
		if r.cache.Lookup(ctx, key, &rep) {
			metrics.ReputationLookups.WithLabelValues("remote", "cached").Inc()
			return rep, nil
		}
	}

	if !r.breaker.Allow() {
		return rep, fmt.Errorf("remote reputation: %w", ErrCircuitOpen)
	}
	rep, err := r.remote.LookupHost(ctx, host)
	if err != nil {
		r.breaker.RecordFailure()
		metrics.ReputationLookups.WithLabelValues("remote", "error").Inc()
		return rep, err
	}
	r.breaker.RecordSuccess()

	result := "miss"
	if rep.Malicious {
		result = "hit"
	}
	metrics.ReputationLookups.WithLabelValues("remote", result).Inc()
	if r.cache != nil {
		r.cache.Put(ctx, key, rep, 0)
	}
	return rep, nil
}
