package reconcile

import (
	"time"

	"chat_stream_service/internal/chat/domain"
	"chat_stream_service/pkg/logger"
)

const (
	// DefaultPageSize entries per initial / older / newer page
	DefaultPageSize = 50
	// DefaultMaxOrphans events kept for ids not yet loaded
	DefaultMaxOrphans = 256
	// DefaultMaxRefetchPages newer pages fetched on refocus before giving up
	DefaultMaxRefetchPages = 10
)

// Hooks callbacks the owner uses to drive scroll and typing state.
// All of them run on the owner's goroutine; nil hooks are skipped.
type Hooks struct {
	// InitialLoaded initial page is in the buffer and queued events replayed
	InitialLoaded func()
	// BeforePrepend an older page is about to be inserted at the head
	BeforePrepend func()
	// AfterPrepend n older entries were inserted at the head
	AfterPrepend func(n int)
	// Appended n new entries reached the tail (live, refetch or own send)
	Appended func(n int)
	// Typing a user_typing event arrived
	Typing func(p domain.TypingPayload)
	// Changed the buffer or pagination state changed
	Changed func()
}

// Options engine tunables
type Options struct {
	PageSize        int
	MaxOrphans      int
	MaxRefetchPages int
	Hooks           Hooks
	Logger          *logger.LogInfo
	Now             func() time.Time
}

func (o *Options) withDefaults() {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.MaxOrphans <= 0 {
		o.MaxOrphans = DefaultMaxOrphans
	}
	if o.MaxRefetchPages <= 0 {
		o.MaxRefetchPages = DefaultMaxRefetchPages
	}
	if o.Logger == nil {
		o.Logger = logger.Log
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}
