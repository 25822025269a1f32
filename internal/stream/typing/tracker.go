package typing

import (
	"sort"
	"time"

	"chat_stream_service/internal/chat/domain"

	"golang.org/x/time/rate"
)

const (
	// DefaultExpiry a typer disappears this long after its last announcement
	DefaultExpiry = 3000 * time.Millisecond
	// DefaultThrottle minimum gap between outbound announcements
	DefaultThrottle = 2000 * time.Millisecond
)

// Tracker who is typing, and when the local user may announce again
type Tracker struct {
	selfID   string
	expiry   time.Duration
	throttle time.Duration

	seen    map[string]time.Time
	limiter *rate.Limiter
}

// New create Tracker; zero durations fall back to the defaults
func New(selfProfileID string, expiry, throttle time.Duration) *Tracker {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if throttle <= 0 {
		throttle = DefaultThrottle
	}
	t := &Tracker{
		selfID:   selfProfileID,
		expiry:   expiry,
		throttle: throttle,
		seen:     map[string]time.Time{},
	}
	t.NewSession()
	return t
}

// Observe a user_typing event; returns false for the local user
func (t *Tracker) Observe(p domain.TypingPayload, now time.Time) bool {
	if p.Username == "" || p.ProfileID == t.selfID {
		return false
	}
	t.seen[p.Username] = now.Add(t.expiry)
	return true
}

// Typers usernames still typing at now, sorted; expired ones are dropped
func (t *Tracker) Typers(now time.Time) []string {
	out := make([]string, 0, len(t.seen))
	for name, until := range t.seen {
		if !now.Before(until) {
			delete(t.seen, name)
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Allow the local user may announce typing now; consumes the allowance
func (t *Tracker) Allow(now time.Time) bool {
	return t.limiter.AllowN(now, 1)
}

// NewSession start a new composition session, the next announcement is allowed at once
func (t *Tracker) NewSession() {
	t.limiter = rate.NewLimiter(rate.Every(t.throttle), 1)
}

// Reset drop all typers and start a new session
func (t *Tracker) Reset() {
	t.seen = map[string]time.Time{}
	t.NewSession()
}
