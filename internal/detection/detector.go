// Package detection holds the per-channel heuristic analyzers. Analyzers are
// pure: they read a normalized input and return a scored result without I/O.
package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"scanguard/internal/common"
	"scanguard/internal/normalize"
)

var (
	// ErrInvalidContent reports a structural failure of the input. It is the
	// same sentinel the normalizer uses so callers check a single error.
	ErrInvalidContent = normalize.ErrInvalidContent

	ErrInvalidImage      = fmt.Errorf("%w: invalid image", ErrInvalidContent)
	ErrDecodeUnavailable = fmt.Errorf("%w: qr decoding unavailable", ErrInvalidContent)
	ErrNoAnalyzer        = errors.New("no analyzer registered for channel")
)

// Analyzer scores one channel.
type Analyzer interface {
	Channel() common.Channel
	Analyze(ctx context.Context, in normalize.Input) (*AnalysisResult, error)
}

// Options configures the built-in analyzers.
type Options struct {
	Keywords *Keywords
	Decoder  QRDecoder
	Logger   *slog.Logger
}

// Detector dispatches inputs to the analyzer registered for their channel.
type Detector struct {
	mu        sync.RWMutex
	analyzers map[common.Channel]Analyzer
	logger    *slog.Logger
}

// NewDetector registers the url, email, sms and qr analyzers.
func NewDetector(opts ...func(*Options)) *Detector {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Keywords == nil {
		o.Keywords = DefaultKeywords()
	}
	if o.Decoder == nil {
		o.Decoder = NewZXingDecoder()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	d := &Detector{
		analyzers: make(map[common.Channel]Analyzer, len(common.Channels)),
		logger:    o.Logger,
	}
	urls := NewURLAnalyzer(o.Keywords)
	d.Register(urls)
	d.Register(NewEmailAnalyzer(o.Keywords))
	d.Register(NewSMSAnalyzer(o.Keywords))
	d.Register(NewQRAnalyzer(o.Decoder, urls))
	return d
}

func WithKeywords(k *Keywords) func(*Options) {
	return func(o *Options) { o.Keywords = k }
}

func WithDecoder(dec QRDecoder) func(*Options) {
	return func(o *Options) { o.Decoder = dec }
}

func WithLogger(l *slog.Logger) func(*Options) {
	return func(o *Options) { o.Logger = l }
}

// Register adds or replaces the analyzer for its channel.
func (d *Detector) Register(a Analyzer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.analyzers[a.Channel()] = a
}

// Analyze runs the analyzer for in.Channel.
func (d *Detector) Analyze(ctx context.Context, in normalize.Input) (*AnalysisResult, error) {
	d.mu.RLock()
	a, ok := d.analyzers[in.Channel]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAnalyzer, in.Channel)
	}

	res, err := a.Analyze(ctx, in)
	if err != nil {
		d.logger.Debug("analysis rejected", "channel", in.Channel, "error", err)
		return nil, err
	}
	return res, nil
}
