// Package pipeline runs a request through normalization, the result cache,
// channel analysis, extra factor sources, the policy engine and the threat
// feed.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"scanguard/internal/cache"
	"scanguard/internal/common"
	"scanguard/internal/detection"
	"scanguard/internal/feed"
	"scanguard/internal/metrics"
	"scanguard/internal/normalize"
	"scanguard/internal/policy"
	"scanguard/internal/signals"
)

// Request is one analysis request.
type Request struct {
	Channel common.Channel `json:"channel"`
	Content string         `json:"content"`
	Sender  string         `json:"sender,omitempty"`
	Policy  string         `json:"policy,omitempty"`
}

// Report is the outcome of one request.
type Report struct {
	*detection.AnalysisResult
	Cached   bool              `json:"cached"`
	Decision policy.Evaluation `json:"decision"`
}

// Service wires the pipeline components. Every collaborator other than the
// detector is optional.
type Service struct {
	normalizer *normalize.Normalizer
	detector   *detection.Detector
	sources    []signals.Source
	cache      *cache.ResultCache
	policies   *policy.Engine
	hub        *feed.Hub
	logger     *slog.Logger
}

type Option func(*Service)

func WithCache(c *cache.ResultCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithSources(src ...signals.Source) Option {
	return func(s *Service) { s.sources = append(s.sources, src...) }
}

func WithPolicies(e *policy.Engine) Option {
	return func(s *Service) { s.policies = e }
}

func WithHub(h *feed.Hub) Option {
	return func(s *Service) { s.hub = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(det *detection.Detector, opts ...Option) *Service {
	s := &Service{
		normalizer: normalize.New(),
		detector:   det,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.New(nil)
	}
	if s.policies == nil {
		s.policies = policy.NewEngine(policy.WithLogger(s.logger))
	}
	return s
}

// Analyze normalizes and analyses one piece of text content. Invalid input
// is reported as an error wrapping normalize.ErrInvalidContent.
func (s *Service) Analyze(ctx context.Context, req Request) (*Report, error) {
	in, err := s.normalizer.Normalize(req.Channel, req.Content, req.Sender)
	if err != nil {
		return nil, err
	}
	key := s.cache.Key(string(in.Channel), []byte(in.Content+"\x00"+in.Sender))
	return s.run(ctx, in, key, req.Policy)
}

// AnalyzeImage analyses an image expected to contain a QR code.
func (s *Service) AnalyzeImage(ctx context.Context, data []byte, policyName string) (*Report, error) {
	in, err := s.normalizer.NormalizeImage(data)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, in, s.cache.Key(string(common.ChannelQR), data), policyName)
}

func (s *Service) run(ctx context.Context, in normalize.Input, key, policyName string) (*Report, error) {
	if res, ok := s.cache.GetResult(ctx, key); ok {
		return &Report{AnalysisResult: res, Cached: true, Decision: s.policies.Evaluate(res, policyName)}, nil
	}

	start := time.Now()
	res, err := s.detector.Analyze(ctx, in)
	if err != nil {
		return nil, err
	}
	if len(s.sources) > 0 {
		extra := signals.Collect(ctx, s.sources, in, res, s.logger)
		res = detection.Rescore(res, extra)
	}
	metrics.AnalysisDuration.WithLabelValues(string(in.Channel)).Observe(time.Since(start).Seconds())
	metrics.AnalysesTotal.WithLabelValues(string(in.Channel), string(res.RiskLevel)).Inc()

	s.cache.SetResult(ctx, key, res)
	rep := &Report{AnalysisResult: res, Decision: s.policies.Evaluate(res, policyName)}
	s.publish(res)

	s.logger.Debug("analysis complete",
		"channel", in.Channel, "score", res.RiskScore, "level", res.RiskLevel, "action", rep.Decision.Action)
	return rep, nil
}

func (s *Service) publish(r *detection.AnalysisResult) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(feed.Entry{
		Channel:   r.Channel,
		RiskScore: r.RiskScore,
		RiskLevel: r.RiskLevel,
		Domain:    r.Domain(),
		URL:       r.URL(),
		Summary:   r.Explanation,
	})
}

// Decide applies the named policy to a result.
func (s *Service) Decide(r *detection.AnalysisResult, policyName string) policy.Evaluation {
	return s.policies.Evaluate(r, policyName)
}

// Subscribe registers a live feed subscriber.
func (s *Service) Subscribe(sub feed.Subscriber, limit int) error {
	if s.hub == nil {
		return feed.ErrHubClosed
	}
	return s.hub.Register(sub, limit)
}

func (s *Service) Unsubscribe(id string) {
	if s.hub != nil {
		s.hub.Unregister(id)
	}
}

// RecentFeed returns up to limit feed entries, newest first.
func (s *Service) RecentFeed(limit int) []feed.Entry {
	if s.hub == nil {
		return nil
	}
	return s.hub.Recent(limit)
}

func (s *Service) FeedStats() feed.Stats {
	if s.hub == nil {
		return feed.Stats{}
	}
	return s.hub.Stats()
}

func (s *Service) Policies() *policy.Engine { return s.policies }

func (s *Service) Cache() *cache.ResultCache { return s.cache }
