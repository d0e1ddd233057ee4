// Package normalize sanitizes untrusted input before any analyzer sees it.
package normalize

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"scanguard/internal/common"
)

// Maximum accepted sizes per channel.
const (
	MaxURLLength    = 2048
	MaxEmailLength  = 10000
	MaxSMSLength    = 1000
	MaxSenderLength = 100
	MaxImageBytes   = 10 << 20
)

var (
	ErrInvalidContent  = errors.New("invalid content")
	ErrEmptyContent    = fmt.Errorf("%w: empty after sanitizing", ErrInvalidContent)
	ErrContentTooLarge = fmt.Errorf("%w: too large", ErrInvalidContent)
)

// Input is the sanitized form of a request. Analyzers only ever see this.
type Input struct {
	Channel common.Channel
	Content string
	Sender  string
	Image   []byte
}

// Normalizer is safe for concurrent use.
type Normalizer struct {
	validate *validator.Validate
}

func New() *Normalizer {
	return &Normalizer{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Normalize sanitizes text content for the url, email and sms channels.
func (n *Normalizer) Normalize(ch common.Channel, content, sender string) (Input, error) {
	in := Input{Channel: ch}

	content = Sanitize(content)
	if content == "" {
		return in, ErrEmptyContent
	}
	if max := maxLength(ch); max > 0 && utf8.RuneCountInString(content) > max {
		return in, fmt.Errorf("%w: %s content exceeds %d characters", ErrContentTooLarge, ch, max)
	}

	switch ch {
	case common.ChannelURL:
		u, err := normalizeURL(content)
		if err != nil {
			return in, err
		}
		content = u
	case common.ChannelEmail, common.ChannelSMS:
	default:
		return in, fmt.Errorf("%w: unsupported channel %q", ErrInvalidContent, ch)
	}
	in.Content = content

	if sender != "" {
		s := Sanitize(sender)
		if utf8.RuneCountInString(s) > MaxSenderLength {
			return in, fmt.Errorf("%w: sender exceeds %d characters", ErrContentTooLarge, MaxSenderLength)
		}
		if ch == common.ChannelEmail && strings.Contains(s, "@") {
			if err := n.validate.Var(s, "required,email"); err != nil {
				return in, fmt.Errorf("%w: invalid sender address", ErrInvalidContent)
			}
		}
		in.Sender = s
	}
	return in, nil
}

// NormalizeImage checks the raw bytes of an uploaded QR image.
func (n *Normalizer) NormalizeImage(data []byte) (Input, error) {
	in := Input{Channel: common.ChannelQR}
	if len(data) == 0 {
		return in, ErrEmptyContent
	}
	if len(data) > MaxImageBytes {
		return in, fmt.Errorf("%w: image exceeds %d bytes", ErrContentTooLarge, MaxImageBytes)
	}
	in.Image = data
	return in, nil
}

// Sanitize strips NUL and control characters (keeping newline and tab),
// applies NFC normalization and trims surrounding whitespace.
func Sanitize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(norm.NFC.String(s))
}

func normalizeURL(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidContent, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidContent)
	}
	return raw, nil
}

func maxLength(ch common.Channel) int {
	switch ch {
	case common.ChannelURL:
		return MaxURLLength
	case common.ChannelEmail:
		return MaxEmailLength
	case common.ChannelSMS:
		return MaxSMSLength
	}
	return 0
}
