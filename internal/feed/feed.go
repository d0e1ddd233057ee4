// Package feed keeps the bounded in-memory threat feed and fans feed events
// out to live subscribers. The feed lives for the process lifetime only.
package feed

import (
	"time"

	"github.com/google/uuid"

	"scanguard/internal/common"
)

const (
	DefaultCapacity      = 100
	DefaultSnapshotLimit = 50
)

// Entry is one notable analysis.
type Entry struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Channel   common.Channel   `json:"channel"`
	RiskScore int              `json:"risk_score"`
	RiskLevel common.RiskLevel `json:"risk_level"`
	Severity  string           `json:"severity"`
	Domain    string           `json:"domain,omitempty"`
	URL       string           `json:"url,omitempty"`
	Summary   string           `json:"summary,omitempty"`
}

// Stats counts feed entries by level.
type Stats struct {
	Total      int `json:"total"`
	Dangerous  int `json:"dangerous"`
	Suspicious int `json:"suspicious"`
	Safe       int `json:"safe"`
}

// Feed is a fixed-capacity ring of entries, newest first. It is not safe for
// concurrent use; Hub serializes access.
type Feed struct {
	buf   []Entry
	start int
	size  int
}

func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{buf: make([]Entry, capacity)}
}

// Insert places e at the head, dropping the oldest entry when full.
func (f *Feed) Insert(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	f.start = (f.start - 1 + len(f.buf)) % len(f.buf)
	f.buf[f.start] = e
	if f.size < len(f.buf) {
		f.size++
	}
	return e
}

// Recent returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (f *Feed) Recent(limit int) []Entry {
	n := f.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = f.buf[(f.start+i)%len(f.buf)]
	}
	return out
}

func (f *Feed) Len() int { return f.size }

func (f *Feed) Cap() int { return len(f.buf) }

func (f *Feed) Stats() Stats {
	s := Stats{Total: f.size}
	for i := 0; i < f.size; i++ {
		switch f.buf[(f.start+i)%len(f.buf)].RiskLevel {
		case common.RiskDangerous:
			s.Dangerous++
		case common.RiskSuspicious:
			s.Suspicious++
		case common.RiskSafe:
			s.Safe++
		}
	}
	return s
}
