package classify

import (
	"strings"
	"time"
)

const (
	// DefaultQuietInterval is the minimum spacing between accepted snapshots.
	DefaultQuietInterval = 2 * time.Second
	// DefaultMinLength is the shortest trimmed text treated as content.
	DefaultMinLength = 5
)

// Policy parameterizes the debounce gate.
type Policy struct {
	QuietInterval time.Duration
	MinLength     int
}

// DefaultPolicy returns the production debounce policy.
func DefaultPolicy() Policy {
	return Policy{QuietInterval: DefaultQuietInterval, MinLength: DefaultMinLength}
}

// Gate is the per-session debounce state. It lives inside the session state
// so that concurrent sessions never share it.
type Gate struct {
	LastText string
	LastAt   time.Time
}

// Admit decides whether text observed at now should be processed. It
// returns the updated gate; on rejection the gate is returned unchanged.
func (g Gate) Admit(text string, now time.Time, p Policy) (Gate, bool) {
	if reason := g.Reject(text, now, p); reason != "" {
		return g, false
	}
	return Gate{LastText: text, LastAt: now}, true
}

// Reject returns why text would be rejected, or "" if it would be admitted.
func (g Gate) Reject(text string, now time.Time, p Policy) string {
	switch {
	case text == g.LastText:
		return "duplicate"
	case !g.LastAt.IsZero() && now.Sub(g.LastAt) < p.QuietInterval:
		return "too-soon"
	case len(strings.TrimSpace(text)) < p.MinLength:
		return "too-short"
	default:
		return ""
	}
}
