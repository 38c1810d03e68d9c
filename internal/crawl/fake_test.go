package crawl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"insta_spider/internal/config"
	"insta_spider/internal/markup"
	"insta_spider/internal/session"
)

type fakeItem struct {
	published time.Time
	// likes is the primary counter text; empty marks a video item.
	likes string
	// noViewControl hides the view-count control of a video item.
	noViewControl bool
	// fallbackLikes appears after the view-count control is clicked; empty
	// means it never appears.
	fallbackLikes string
	// panelCloses controls whether the reveal panel shows its close control.
	panelCloses bool
	// noNext hides the inline pager on this item.
	noNext bool
}

type fakeFeed struct {
	entity       string
	ready        bool
	unavailable  bool
	loginPopup   bool
	noCloseCtl   bool
	gridSize     int
	items        []fakeItem
	openFailures error
	navigateErr  error
}

// fakeSession renders a feed with the default selectors and reacts to clicks
// on them. Waits resolve immediately against the current markup.
type fakeSession struct {
	feed *fakeFeed
	sel  config.Selectors

	mu       sync.Mutex
	onPage   bool
	open     int
	revealed bool
	popup    bool
	closed   bool
	clicks   []string
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feed.navigateErr != nil {
		return s.feed.navigateErr
	}
	s.onPage = true
	s.open = -1
	s.popup = s.feed.loginPopup
	return nil
}

func (s *fakeSession) WaitFor(ctx context.Context, sel string, timeout time.Duration) error {
	html, _ := s.Markup(ctx)
	doc, err := markup.Parse(html)
	if err != nil {
		return err
	}
	if !doc.Exists(sel) {
		return fmt.Errorf("wait for %q: %w", sel, session.ErrTimeout)
	}
	return nil
}

func (s *fakeSession) Click(ctx context.Context, sel string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks = append(s.clicks, fmt.Sprintf("%s[%d]", sel, index))

	switch sel {
	case s.sel.GridItem:
		if index >= s.gridItems() {
			return session.ErrNoElement
		}
		s.open = index
	case s.sel.NextControl:
		if !s.hasNext() {
			return session.ErrNoElement
		}
		s.open++
		s.revealed = false
	case s.sel.DetailClose:
		if s.open < 0 || s.feed.noCloseCtl {
			return session.ErrNoElement
		}
		s.open = -1
		s.revealed = false
	case s.sel.ViewCountControl:
		s.revealed = true
	case s.sel.FallbackClose:
		s.revealed = false
	case s.sel.LoginPopupClose:
		if !s.popup {
			return session.ErrNoElement
		}
		s.popup = false
	default:
		return session.ErrNoElement
	}
	return nil
}

func (s *fakeSession) gridItems() int {
	if !s.feed.ready || s.feed.unavailable {
		return 0
	}
	if s.feed.gridSize > 0 {
		return s.feed.gridSize
	}
	return len(s.feed.items)
}

func (s *fakeSession) hasNext() bool {
	if s.open < 0 || s.open >= len(s.feed.items) {
		return false
	}
	return !s.feed.items[s.open].noNext && s.open+1 < len(s.feed.items)
}

func (s *fakeSession) Markup(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	b.WriteString("<html><body>")
	if s.onPage {
		s.renderProfile(&b)
		if s.open >= 0 && s.open < len(s.feed.items) {
			s.renderItem(&b, s.open, s.feed.items[s.open])
		}
	}
	b.WriteString("</body></html>")
	return b.String(), nil
}

func (s *fakeSession) renderProfile(b *strings.Builder) {
	if s.feed.unavailable {
		b.WriteString(`<div class="VIsJD">This Account is Private</div>`)
		return
	}
	b.WriteString(`<ul class="k9GMp"><li><span>12</span></li><li><span title="1,500">1.5k</span></li><li><span>80</span></li></ul>`)
	b.WriteString(`<div class="-vDIg"><h1>Name</h1><span>bio</span></div>`)
	for i := 0; i < s.gridItems(); i++ {
		fmt.Fprintf(b, `<div class="_9AhH0">%d</div>`, i)
	}
	if s.popup {
		b.WriteString(`<button class="dCJp8 afkep xqRnw">close</button>`)
	}
}

func (s *fakeSession) renderItem(b *strings.Builder, i int, it fakeItem) {
	b.WriteString(`<article>`)
	fmt.Fprintf(b, `<div class="C4VMK"><a class="FPmhX notranslate TlrDj">%s</a><span>caption %d <a class="xil3i">#tag%d</a></span></div>`, s.feed.entity, i, i)
	fmt.Fprintf(b, `<div class="C4VMK"><a class="FPmhX notranslate TlrDj">fan</a><span>nice</span><time class="FH9sR Nzb55" datetime="%s"></time></div>`,
		it.published.Add(time.Hour).Format(time.RFC3339))
	fmt.Fprintf(b, `<time class="_1o9PC Nzb55" datetime="%s"></time>`, it.published.Format(time.RFC3339))
	if it.likes != "" {
		fmt.Fprintf(b, `<div class="Nm9Fw"><button><span>%s</span></button></div>`, it.likes)
	} else if !it.noViewControl {
		b.WriteString(`<div class="HbPOm _9Ytll"><span class="vcOH2">views</span></div>`)
		if s.revealed && it.fallbackLikes != "" {
			fmt.Fprintf(b, `<div class="vJRqr"><span>%s</span></div>`, it.fallbackLikes)
		}
		if s.revealed && it.panelCloses {
			b.WriteString(`<div class="QhbhU">x</div>`)
		}
	}
	if s.hasNext() {
		b.WriteString(`<a class="_65Bje coreSpriteRightPaginationArrow">next</a>`)
	}
	if !s.feed.noCloseCtl {
		b.WriteString(`<div class="Igw0E"><button class="wpO6b">close</button></div>`)
	}
	b.WriteString(`</article>`)
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeFactory struct {
	feed     *fakeFeed
	sel      config.Selectors
	sessions []*fakeSession
}

func (f *fakeFactory) Open(ctx context.Context) (session.Session, error) {
	if f.feed.openFailures != nil {
		return nil, f.feed.openFailures
	}
	s := &fakeSession{feed: f.feed, sel: f.sel, open: -1}
	f.sessions = append(f.sessions, s)
	return s, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(_ context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
}
