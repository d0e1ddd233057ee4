package policy

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"scanguard/internal/audit"
	"scanguard/internal/common"
	"scanguard/internal/detection"
	"scanguard/internal/metrics"
)

// Auditor accepts audit events without blocking.
type Auditor interface {
	Record(e audit.Event) bool
}

// Engine holds the policy registry. Decisions are pure functions of the
// score, level and the named policy's flags.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]Policy
	auditor  Auditor
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Engine)

func WithAuditor(a Auditor) Option {
	return func(e *Engine) { e.auditor = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		policies: map[string]Policy{DefaultPolicyName: DefaultPolicy()},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// resolve returns the named policy, or the default one.
func (e *Engine) resolve(name string) Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if p, ok := e.policies[name]; ok {
		return p
	}
	return e.policies[DefaultPolicyName]
}

// Decide maps a score and level to an action under the named policy. An
// unknown name falls back to the default policy.
func (e *Engine) Decide(score int, level common.RiskLevel, name string) Decision {
	p := e.resolve(name)
	d := Decision{RiskLevel: level, RiskScore: score, Policy: p.Name}

	switch {
	case level == common.RiskDangerous && p.AutoBlockDangerous:
		d.Action = ActionBlock
		d.Reason = fmt.Sprintf("High risk detected (score: %d/100)", score)
		d.AllowOverride = p.AllowOverride
	case level == common.RiskSuspicious && p.RequireConfirmationSuspicious:
		d.Action = ActionWarn
		d.Reason = fmt.Sprintf("Suspicious content detected (score: %d/100)", score)
		d.AllowOverride = true
	default:
		d.Action = ActionAllow
		d.Reason = "Content appears safe"
	}

	metrics.PolicyDecisions.WithLabelValues(p.Name, string(d.Action)).Inc()
	return d
}

// Evaluate decides on an analysis result and attaches its context.
func (e *Engine) Evaluate(r *detection.AnalysisResult, name string) Evaluation {
	ev := Evaluation{
		Decision:        e.Decide(r.RiskScore, r.RiskLevel, name),
		URL:             r.URL(),
		Domain:          r.Domain(),
		Factors:         r.Factors,
		Recommendations: r.Recommendations,
	}
	return ev
}

// CreatePolicy registers or replaces name. Unset fields take defaults.
func (e *Engine) CreatePolicy(name string, cfg Config) (Policy, error) {
	p := cfg.apply(name)
	if err := p.validate(); err != nil {
		return Policy{}, err
	}
	if p.BlockThreshold != DefaultBlockThreshold || p.WarnThreshold != DefaultWarnThreshold {
		e.logger.Warn("policy thresholds are informational; decisions follow the risk level",
			"policy", name, "block_threshold", p.BlockThreshold, "warn_threshold", p.WarnThreshold)
	}

	e.mu.Lock()
	e.policies[name] = p
	e.mu.Unlock()
	return p, nil
}

// GetPolicy returns the named policy or ErrPolicyNotFound.
func (e *Engine) GetPolicy(name string) (Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.policies[name]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	}
	return p, nil
}

// ListPolicies returns policy names in sorted order.
func (e *Engine) ListPolicies() []string {
	e.mu.RLock()
	names := make([]string, 0, len(e.policies))
	for n := range e.policies {
		names = append(names, n)
	}
	e.mu.RUnlock()
	slices.Sort(names)
	return names
}

func (e *Engine) DeletePolicy(name string) error {
	if name == DefaultPolicyName {
		return fmt.Errorf("%w: the default policy cannot be deleted", ErrInvalidPolicy)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.policies[name]; !ok {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	}
	delete(e.policies, name)
	return nil
}

type policyFile struct {
	Policies map[string]Config `yaml:"policies"`
}

// LoadFile registers every policy in a YAML file of the form
//
//	policies:
//	  strict:
//	    allow_override: false
func (e *Engine) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading policy file: %w", err)
	}
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return 0, fmt.Errorf("parsing policy file: %w", err)
	}
	names := make([]string, 0, len(pf.Policies))
	for n := range pf.Policies {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		if _, err := e.CreatePolicy(n, pf.Policies[n]); err != nil {
			return 0, fmt.Errorf("policy %q: %w", n, err)
		}
	}
	return len(names), nil
}

// LogOverride records that userID proceeded despite a warning or block. The
// returned event is the one handed to the auditor, if any.
func (e *Engine) LogOverride(userID, content string, score int, reason string) audit.Event {
	ev := audit.Event{
		Type:      audit.EventOverride,
		UserID:    userID,
		Content:   truncate(content, MaxAuditContent),
		RiskScore: score,
		Reason:    reason,
		Timestamp: e.now().UTC(),
	}
	e.emit(ev)
	return ev
}

// LogBlock records that content was blocked for userID.
func (e *Engine) LogBlock(userID, content string, score int, level common.RiskLevel) audit.Event {
	ev := audit.Event{
		Type:      audit.EventBlock,
		UserID:    userID,
		Content:   truncate(content, MaxAuditContent),
		RiskScore: score,
		RiskLevel: string(level),
		Timestamp: e.now().UTC(),
	}
	e.emit(ev)
	return ev
}

func (e *Engine) emit(ev audit.Event) {
	if e.auditor == nil {
		return
	}
	if !e.auditor.Record(ev) {
		e.logger.Debug("audit event not recorded", "type", ev.Type, "user", ev.UserID)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
