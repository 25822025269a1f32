package unread

import "chat_stream_service/internal/chat/domain"

// Boundary first unread entry and how many entries are unread
type Boundary struct {
	// FirstUnreadIndex index into the entries slice, -1 when nothing is unread
	FirstUnreadIndex int
	FirstUnreadID    domain.MessageID
	Count            int
}

// None boundary with nothing unread
func None() Boundary {
	return Boundary{FirstUnreadIndex: -1}
}

// Compute boundary of entries for profileID. System lines, pending,
// deleted and own entries never count.
func Compute(entries []domain.MessageEntry, profileID string) Boundary {
	b := None()
	for i := range entries {
		if !entries[i].CountsAsUnread(profileID) {
			continue
		}
		if b.Count == 0 {
			b.FirstUnreadIndex = i
			b.FirstUnreadID = entries[i].ID
		}
		b.Count++
	}
	return b
}

// Marker commits the read receipt, returning how many entries changed
type Marker interface {
	MarkAllRead() int
}

// MarkerFunc adapter
type MarkerFunc func() int

// MarkAllRead call f
func (f MarkerFunc) MarkAllRead() int { return f() }

// Tracker unread state of one view
type Tracker struct {
	profileID string
	marker    Marker

	boundary        Boundary
	userHasScrolled bool
}

// New create Tracker
func New(profileID string, marker Marker) *Tracker {
	return &Tracker{profileID: profileID, marker: marker, boundary: None()}
}

// Boundary last computed boundary
func (t *Tracker) Boundary() Boundary { return t.boundary }

// Recompute refresh the boundary after the buffer changed
func (t *Tracker) Recompute(entries []domain.MessageEntry) Boundary {
	t.boundary = Compute(entries, t.profileID)
	return t.boundary
}

// ScrollChanged feed the scroll state; returning to the live edge with
// unread entries commits. Reports whether a commit happened.
func (t *Tracker) ScrollChanged(userHasScrolled bool) bool {
	was := t.userHasScrolled
	t.userHasScrolled = userHasScrolled
	if was && !userHasScrolled && t.boundary.Count > 0 {
		t.commit()
		return true
	}
	return false
}

// Dismiss commit regardless of scroll state
func (t *Tracker) Dismiss() {
	t.commit()
}

func (t *Tracker) commit() {
	t.marker.MarkAllRead()
	t.boundary = None()
}

// Reset forget state, used when the view closes
func (t *Tracker) Reset() {
	t.boundary = None()
	t.userHasScrolled = false
}
