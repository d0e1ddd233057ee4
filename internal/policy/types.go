package policy

import (
	"errors"
	"fmt"

	"scanguard/internal/common"
	"scanguard/internal/risk"
)

// DefaultPolicyName is always registered and cannot be removed.
const DefaultPolicyName = "default"

const (
	DefaultBlockThreshold = 70
	DefaultWarnThreshold  = 40
	// MaxAuditContent bounds content recorded by LogOverride and LogBlock.
	MaxAuditContent = 200
)

var (
	ErrPolicyNotFound = errors.New("policy not found")
	ErrInvalidPolicy  = errors.New("invalid policy")
)

// ActionType enumerates possible policy actions.
type ActionType string

const (
	ActionAllow ActionType = "allow"
	ActionWarn  ActionType = "warn"
	ActionBlock ActionType = "block"
)

// Policy is a named blocking configuration. The thresholds are carried and
// reported but the decision itself is driven by the risk level.
type Policy struct {
	Name                          string `json:"name" yaml:"name"`
	BlockThreshold                int    `json:"block_threshold" yaml:"block_threshold"`
	WarnThreshold                 int    `json:"warn_threshold" yaml:"warn_threshold"`
	AutoBlockDangerous            bool   `json:"auto_block_dangerous" yaml:"auto_block_dangerous"`
	RequireConfirmationSuspicious bool   `json:"require_confirmation_suspicious" yaml:"require_confirmation_suspicious"`
	AllowOverride                 bool   `json:"allow_override" yaml:"allow_override"`
}

// DefaultPolicy returns the built-in default policy.
func DefaultPolicy() Policy {
	return Policy{
		Name:                          DefaultPolicyName,
		BlockThreshold:                DefaultBlockThreshold,
		WarnThreshold:                 DefaultWarnThreshold,
		AutoBlockDangerous:            true,
		RequireConfirmationSuspicious: true,
		AllowOverride:                 true,
	}
}

// Config is a partial policy; nil fields take the default policy's value.
type Config struct {
	BlockThreshold                *int  `json:"block_threshold,omitempty" yaml:"block_threshold,omitempty"`
	WarnThreshold                 *int  `json:"warn_threshold,omitempty" yaml:"warn_threshold,omitempty"`
	AutoBlockDangerous            *bool `json:"auto_block_dangerous,omitempty" yaml:"auto_block_dangerous,omitempty"`
	RequireConfirmationSuspicious *bool `json:"require_confirmation_suspicious,omitempty" yaml:"require_confirmation_suspicious,omitempty"`
	AllowOverride                 *bool `json:"allow_override,omitempty" yaml:"allow_override,omitempty"`
}

func (c Config) apply(name string) Policy {
	p := DefaultPolicy()
	p.Name = name
	if c.BlockThreshold != nil {
		p.BlockThreshold = *c.BlockThreshold
	}
	if c.WarnThreshold != nil {
		p.WarnThreshold = *c.WarnThreshold
	}
	if c.AutoBlockDangerous != nil {
		p.AutoBlockDangerous = *c.AutoBlockDangerous
	}
	if c.RequireConfirmationSuspicious != nil {
		p.RequireConfirmationSuspicious = *c.RequireConfirmationSuspicious
	}
	if c.AllowOverride != nil {
		p.AllowOverride = *c.AllowOverride
	}
	return p
}

func (p Policy) validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	}
	for _, v := range []int{p.BlockThreshold, p.WarnThreshold} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%w: threshold %d outside 0..100", ErrInvalidPolicy, v)
		}
	}
	if p.WarnThreshold > p.BlockThreshold {
		return fmt.Errorf("%w: warn threshold %d above block threshold %d", ErrInvalidPolicy, p.WarnThreshold, p.BlockThreshold)
	}
	return nil
}

// Decision is the outcome of applying a policy to a score and level.
type Decision struct {
	Action        ActionType       `json:"action"`
	Reason        string           `json:"reason"`
	AllowOverride bool             `json:"allow_override"`
	RiskLevel     common.RiskLevel `json:"risk_level"`
	RiskScore     int              `json:"risk_score"`
	Policy        string           `json:"policy"`
}

// Evaluation is a Decision with context copied from the analysis.
type Evaluation struct {
	Decision
	URL             string            `json:"url,omitempty"`
	Domain          string            `json:"domain,omitempty"`
	Factors         []risk.RiskFactor `json:"factors"`
	Recommendations []string          `json:"recommendations"`
}
