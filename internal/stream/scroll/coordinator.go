// Package scroll keeps the viewport at the live edge, preserves position
// across history prepends and performs the initial scroll.
//
// The Coordinator never reads the clock; every input carries now. It is
// driven from one goroutine.
package scroll

import (
	"time"

	"chat_stream_service/internal/chat/domain"
)

// Metrics viewport geometry in pixels
type Metrics struct {
	ScrollTop    float64
	ScrollHeight float64
	ClientHeight float64
}

// DistanceFromBottom pixels between the viewport bottom and the content end
func (m Metrics) DistanceFromBottom() float64 {
	return m.ScrollHeight - m.ScrollTop - m.ClientHeight
}

// Viewport the scrollable surface rendering the buffer
type Viewport interface {
	Metrics() Metrics
	ScrollTo(top float64, smooth bool)
	// ScrollToEntry returns false when the entry is not rendered
	ScrollToEntry(id domain.MessageID, center, smooth bool) bool
}

// Config thresholds; zero values fall back to the defaults
type Config struct {
	Debounce          time.Duration
	ProgrammaticTTL   time.Duration
	ImageFallback     time.Duration
	AwayThreshold     float64
	LiveEdgeThreshold float64
	TopThreshold      float64
}

const (
	DefaultDebounce          = 150 * time.Millisecond
	DefaultProgrammaticTTL   = 500 * time.Millisecond
	DefaultImageFallback     = 1000 * time.Millisecond
	DefaultAwayThreshold     = 100
	DefaultLiveEdgeThreshold = 20
)

func (c *Config) withDefaults() {
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.ProgrammaticTTL <= 0 {
		c.ProgrammaticTTL = DefaultProgrammaticTTL
	}
	if c.ImageFallback <= 0 {
		c.ImageFallback = DefaultImageFallback
	}
	if c.AwayThreshold <= 0 {
		c.AwayThreshold = DefaultAwayThreshold
	}
	if c.LiveEdgeThreshold <= 0 {
		c.LiveEdgeThreshold = DefaultLiveEdgeThreshold
	}
}

// Handlers transitions the owner reacts to; nil handlers are skipped
type Handlers struct {
	// UserScrolledChanged userHasScrolled flipped
	UserScrolledChanged func(userHasScrolled bool)
	// ReachedTop the user scrolled to the top edge
	ReachedTop func()
}

// State read-only scroll state for snapshots
type State struct {
	UserHasScrolled   bool
	InitialScrollDone bool
	AtTop             bool
}

// Coordinator scroll state machine
type Coordinator struct {
	vp       Viewport
	cfg      Config
	handlers Handlers

	userHasScrolled bool
	atTop           bool
	debounceAt      time.Time
	marks           []time.Time

	initialActive bool
	initialDone   bool
	initialTarget *domain.MessageID
	pendingImages int
	fallbackAt    time.Time

	recorded *Metrics
}

// New create a Coordinator
func New(vp Viewport, cfg Config, handlers Handlers) *Coordinator {
	cfg.withDefaults()
	return &Coordinator{vp: vp, cfg: cfg, handlers: handlers}
}

// State current state
func (c *Coordinator) State() State {
	return State{
		UserHasScrolled:   c.userHasScrolled,
		InitialScrollDone: c.initialDone,
		AtTop:             c.atTop,
	}
}

// UserHasScrolled the user is away from the live edge
func (c *Coordinator) UserHasScrolled() bool { return c.userHasScrolled }

// Reset forget everything, used when the conversation closes
func (c *Coordinator) Reset() {
	*c = Coordinator{vp: c.vp, cfg: c.cfg, handlers: c.handlers}
}

// NextDeadline earliest time Tick has work to do, zero when idle
func (c *Coordinator) NextDeadline() time.Time {
	var next time.Time
	consider := func(t time.Time) {
		if !t.IsZero() && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}
	consider(c.debounceAt)
	if len(c.marks) > 0 {
		consider(c.marks[0])
	}
	if c.initialActive {
		consider(c.fallbackAt)
	}
	return next
}

func (c *Coordinator) expireMarks(now time.Time) {
	i := 0
	for i < len(c.marks) && now.After(c.marks[i]) {
		i++
	}
	c.marks = c.marks[i:]
}

func (c *Coordinator) scrollTo(top float64, smooth bool, now time.Time) {
	c.marks = append(c.marks, now.Add(c.cfg.ProgrammaticTTL))
	c.vp.ScrollTo(top, smooth)
}

func (c *Coordinator) scrollToBottom(smooth bool, now time.Time) {
	m := c.vp.Metrics()
	top := m.ScrollHeight - m.ClientHeight
	if top < 0 {
		top = 0
	}
	c.scrollTo(top, smooth, now)
}

// OnScroll a scroll event from the viewport. Events caused by our own
// scrolls consume a mark and are ignored; user scrolls restart the debounce.
func (c *Coordinator) OnScroll(now time.Time) {
	c.expireMarks(now)
	if len(c.marks) > 0 {
		c.marks = c.marks[1:]
		return
	}
	c.debounceAt = now.Add(c.cfg.Debounce)

	m := c.vp.Metrics()
	c.atTop = m.ScrollTop <= c.cfg.TopThreshold
	if c.atTop && c.initialDone && c.handlers.ReachedTop != nil {
		c.handlers.ReachedTop()
	}
}

// Tick advance timers: debounce, mark expiry and the image fallback
func (c *Coordinator) Tick(now time.Time) {
	c.expireMarks(now)
	if !c.debounceAt.IsZero() && !now.Before(c.debounceAt) {
		c.debounceAt = time.Time{}
		c.evaluate()
	}
	if c.initialActive && !now.Before(c.fallbackAt) {
		c.applyInitial(now)
		c.finishInitial()
	}
}

func (c *Coordinator) evaluate() {
	d := c.vp.Metrics().DistanceFromBottom()
	switch {
	case d > c.cfg.AwayThreshold:
		c.setUserScrolled(true)
	case d <= c.cfg.LiveEdgeThreshold:
		c.setUserScrolled(false)
	}
}

func (c *Coordinator) setUserScrolled(v bool) {
	if c.userHasScrolled == v {
		return
	}
	c.userHasScrolled = v
	if c.handlers.UserScrolledChanged != nil {
		c.handlers.UserScrolledChanged(v)
	}
}

// InitialLoaded the initial page is rendered. Scrolls to target, centered,
// or to the bottom when target is nil, and keeps re-issuing that scroll as
// images load until all images report, LayoutSettled is called or the
// fallback elapses.
func (c *Coordinator) InitialLoaded(target *domain.MessageID, images int, now time.Time) {
	c.initialActive = true
	c.initialDone = false
	c.initialTarget = target
	c.pendingImages = images
	c.fallbackAt = now.Add(c.cfg.ImageFallback)
	c.applyInitial(now)
	if images <= 0 {
		c.finishInitial()
	}
}

func (c *Coordinator) applyInitial(now time.Time) {
	if c.initialTarget != nil {
		c.marks = append(c.marks, now.Add(c.cfg.ProgrammaticTTL))
		if c.vp.ScrollToEntry(*c.initialTarget, true, false) {
			return
		}
		c.marks = c.marks[:len(c.marks)-1]
	}
	c.scrollToBottom(false, now)
}

func (c *Coordinator) finishInitial() {
	c.initialActive = false
	c.initialDone = true
	c.initialTarget = nil
	c.pendingImages = 0
}

// ImageLoaded an image finished loading and changed the layout
func (c *Coordinator) ImageLoaded(now time.Time) {
	if c.initialActive {
		c.pendingImages--
		c.applyInitial(now)
		if c.pendingImages <= 0 {
			c.finishInitial()
		}
		return
	}
	if c.initialDone && !c.userHasScrolled {
		c.scrollToBottom(false, now)
	}
}

// LayoutSettled the presentation reports the layout is final
func (c *Coordinator) LayoutSettled(now time.Time) {
	if !c.initialActive {
		return
	}
	c.applyInitial(now)
	c.finishInitial()
}

// Appended n entries reached the tail, follow them when at the live edge
func (c *Coordinator) Appended(n int, now time.Time) {
	if n <= 0 || !c.initialDone || c.userHasScrolled {
		return
	}
	c.scrollToBottom(true, now)
}

// JumpToLatest scroll to the bottom regardless of state, used after the local user sends
func (c *Coordinator) JumpToLatest(now time.Time) {
	if !c.initialDone {
		return
	}
	c.scrollToBottom(true, now)
	c.setUserScrolled(false)
}

// BeforePrepend record the geometry before older entries are inserted
func (c *Coordinator) BeforePrepend() {
	m := c.vp.Metrics()
	c.recorded = &m
}

// AfterPrepend restore the position the user was looking at:
// scrollTop = recorded + (newHeight - recordedHeight)
func (c *Coordinator) AfterPrepend(now time.Time) {
	if c.recorded == nil {
		return
	}
	rec := *c.recorded
	c.recorded = nil
	m := c.vp.Metrics()
	c.scrollTo(rec.ScrollTop+(m.ScrollHeight-rec.ScrollHeight), false, now)
	c.atTop = false
}
