// Package signals holds optional factor sources that run after a channel
// analyzer: threat feed reputation and a token-weight classifier. Their
// factors are folded into the result with detection.Rescore.
package signals

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"net/url"
	"strings"

	"scanguard/internal/detection"
	"scanguard/internal/metrics"
	"scanguard/internal/normalize"
	"scanguard/internal/risk"
)

// ErrCircuitOpen is returned while a source's dependency is being skipped.
var ErrCircuitOpen = errors.New("circuit open")

// Source contributes extra factors for an analysed input.
type Source interface {
	Name() string
	Factors(ctx context.Context, in normalize.Input, r *detection.AnalysisResult) ([]risk.RiskFactor, error)
}

// Collect runs every source in order. A failing source is logged and
// skipped; it never fails the analysis.
func Collect(ctx context.Context, sources []Source, in normalize.Input, r *detection.AnalysisResult, logger *slog.Logger) []risk.RiskFactor {
	if logger == nil {
		logger = slog.Default()
	}
	var out []risk.RiskFactor
	for _, s := range sources {
		f, err := s.Factors(ctx, in, r)
		if err != nil {
			metrics.SourceErrors.WithLabelValues(s.Name()).Inc()
			logger.Warn("factor source failed, skipping", "source", s.Name(), "error", err)
			continue
		}
		out = append(out, f...)
	}
	return out
}

// Hosts lists the hosts a result refers to: the analysed URL's host first,
// then hosts of URLs embedded in email or SMS bodies.
func Hosts(r *detection.AnalysisResult) []string {
	var raw []string
	if u := r.URL(); u != "" {
		raw = append(raw, u)
	}
	if d := r.Details.Email; d != nil {
		raw = append(raw, d.URLs.URLs...)
	}
	if d := r.Details.SMS; d != nil {
		raw = append(raw, d.URLs.URLs...)
	}

	seen := make(map[string]bool)
	var hosts []string
	for _, s := range raw {
		if !strings.Contains(s, "://") {
			s = "http://" + s
		}
		u, err := url.Parse(s)
		if err != nil {
			continue
		}
		h := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		hosts = append(hosts, h)
	}
	return hosts
}

// parents returns host followed by each parent domain with at least two
// labels: a.b.example.com, b.example.com, example.com.
func parents(host string) []string {
	out := []string{host}
	if _, err := netip.ParseAddr(host); err == nil {
		return out
	}
	for {
		i := strings.IndexByte(host, '.')
		if i < 0 {
			break
		}
		host = host[i+1:]
		if !strings.Contains(host, ".") {
			break
		}
		out = append(out, host)
	}
	return out
}
