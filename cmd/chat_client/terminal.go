package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"chat_stream_service/internal/chat/domain"
	"chat_stream_service/internal/stream/scroll"
	"chat_stream_service/internal/stream/view"
)

// terminalPresenter line oriented rendering; every entry is one row of a
// virtual viewport that is rows tall
type terminalPresenter struct {
	mu      sync.Mutex
	out     io.Writer
	m       scroll.Metrics
	ids     []domain.MessageID
	printed map[string]string
	typers  string
	unread  int
}

func newTerminalPresenter(out io.Writer, rows int) *terminalPresenter {
	if rows <= 0 {
		rows = 20
	}
	return &terminalPresenter{
		out:     out,
		m:       scroll.Metrics{ClientHeight: float64(rows)},
		printed: map[string]string{},
	}
}

func entryKey(e domain.MessageEntry) string {
	if e.ID == 0 {
		return "pending:" + e.LocalToken
	}
	return e.ID.String()
}

func formatEntry(e domain.MessageEntry) string {
	var b strings.Builder
	b.WriteString(e.CreatedAt.Local().Format("15:04:05"))
	if e.ID != 0 {
		fmt.Fprintf(&b, " #%s", e.ID)
	}

	if e.Kind == domain.KindSystemInfo {
		fmt.Fprintf(&b, " * %s", e.Content)
		return b.String()
	}

	fmt.Fprintf(&b, " <%s>", e.SenderUsername)
	if e.ParentSnapshot != nil {
		fmt.Fprintf(&b, " (re #%s %s: %q)", e.ParentSnapshot.ID, e.ParentSnapshot.SenderUsername, e.ParentSnapshot.Content)
	}
	switch {
	case e.Deleted:
		b.WriteString(" [deleted]")
		return b.String()
	case e.Content != "":
		b.WriteString(" " + e.Content)
	}
	if e.ImageURL != "" {
		b.WriteString(" [image " + e.ImageURL + "]")
	}
	if e.EditedAt != nil {
		b.WriteString(" (edited)")
	}
	for _, g := range e.ReactionGroups() {
		fmt.Fprintf(&b, " %s%d", g.Emoji, g.Count)
	}
	switch {
	case e.SendFailed:
		b.WriteString(" !send failed")
	case e.Pending:
		b.WriteString(" ...")
	}
	return b.String()
}

// Render print entries that are new or changed since the last render
func (p *terminalPresenter) Render(s view.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ids = p.ids[:0]
	for i, e := range s.Entries {
		p.ids = append(p.ids, e.ID)
		if i == s.Unread.FirstUnreadIndex && s.Unread.Count != p.unread {
			fmt.Fprintf(p.out, "---- %d unread ----\n", s.Unread.Count)
		}
		key := entryKey(e)
		line := formatEntry(e)
		if p.printed[key] == line {
			continue
		}
		p.printed[key] = line
		fmt.Fprintln(p.out, line)
	}
	p.unread = s.Unread.Count
	p.m.ScrollHeight = float64(len(s.Entries))

	typers := strings.Join(s.Typers, ", ")
	if typers != p.typers {
		p.typers = typers
		if typers != "" {
			fmt.Fprintf(p.out, "(%s typing...)\n", typers)
		}
	}
	if s.Exhausted && s.InitialDone && len(s.Entries) > 0 && p.printed["start"] == "" {
		p.printed["start"] = "start"
		fmt.Fprintln(p.out, "---- start of conversation ----")
	}
}

func (p *terminalPresenter) Metrics() scroll.Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m
}

func (p *terminalPresenter) scrollTo(top float64) {
	if max := p.m.ScrollHeight - p.m.ClientHeight; top > max {
		top = max
	}
	if top < 0 {
		top = 0
	}
	p.m.ScrollTop = top
}

func (p *terminalPresenter) ScrollTo(top float64, smooth bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrollTo(top)
}

func (p *terminalPresenter) ScrollToEntry(id domain.MessageID, center, smooth bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, got := range p.ids {
		if got != id {
			continue
		}
		top := float64(i)
		if center {
			top -= p.m.ClientHeight / 2
		}
		p.scrollTo(top)
		return true
	}
	return false
}

// scrollBy user paging, negative moves towards older entries
func (p *terminalPresenter) scrollBy(rows float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrollTo(p.m.ScrollTop + rows)
}
