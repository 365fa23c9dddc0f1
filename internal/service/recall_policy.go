package service

import (
	"fmt"
	"time"

	"pollchat/internal/domain"
)

// RecallMode selects how elapsed time is measured against the recall window.
type RecallMode string

const (
	// RecallCoarse counts whole elapsed minutes and ignores the seconds
	// remainder, so a 2m window accepts anything under 3m.
	RecallCoarse RecallMode = "coarse"
	// RecallExact compares the precise elapsed duration.
	RecallExact RecallMode = "exact"
)

const DefaultRecallWindow = 2 * time.Minute

func ParseRecallMode(s string) (RecallMode, error) {
	switch RecallMode(s) {
	case "", RecallCoarse:
		return RecallCoarse, nil
	case RecallExact:
		return RecallExact, nil
	}
	return "", fmt.Errorf("unknown recall mode %q", s)
}

// RecallPolicy guards the Active -> Recalled transition of a message.
type RecallPolicy struct {
	Window time.Duration
	Mode   RecallMode

	now func() time.Time
}

func NewRecallPolicy(window time.Duration, mode RecallMode) *RecallPolicy {
	if window <= 0 {
		window = DefaultRecallWindow
	}
	if mode == "" {
		mode = RecallCoarse
	}
	return &RecallPolicy{Window: window, Mode: mode, now: time.Now}
}

// WithClock replaces the policy clock; used by tests.
func (p *RecallPolicy) WithClock(now func() time.Time) *RecallPolicy {
	p.now = now
	return p
}

// Authorize reports whether requesterID may recall m right now. A foreign
// message yields ErrRecallNotAllowed, an expired one ErrRecallTooLate.
func (p *RecallPolicy) Authorize(m *domain.Message, requesterID int64) error {
	if m == nil || m.SenderID != requesterID {
		return domain.ErrRecallNotAllowed
	}
	if p.Elapsed(m.CreatedAt) > p.Window {
		return domain.ErrRecallTooLate
	}
	return nil
}

// Elapsed returns the time since createdAt as measured by the policy mode.
// A timestamp in the future counts as zero.
func (p *RecallPolicy) Elapsed(createdAt time.Time) time.Duration {
	d := p.now().Sub(createdAt)
	if d < 0 {
		return 0
	}
	if p.Mode == RecallExact {
		return d
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	return days*24*time.Hour + hours*time.Hour + minutes*time.Minute
}
