package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly"
	"github.com/gocolly/colly/extensions"
	"golang.org/x/net/html/charset"

	"insta_spider/internal/config"
)

// StaticFactory opens sessions that fetch server-rendered HTML without a
// browser. Clicks follow the href of the target element, so only link-driven
// navigation is supported.
type StaticFactory struct {
	Browser  config.BrowserConfig
	Timeouts Timeouts
	Logger   *slog.Logger
}

type staticSession struct {
	collector *colly.Collector
	logger    *slog.Logger

	current *url.URL
	html    string
	status  int
}

func (f *StaticFactory) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := PickIdentity(f.Browser)

	c := colly.NewCollector(colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = false
	c.ParseHTTPErrorResponse = true
	c.SetRequestTimeout(f.Timeouts.Navigate)

	if id.UserAgent != "" {
		c.UserAgent = id.UserAgent
	} else {
		extensions.RandomUserAgent(c)
	}
	if id.Proxy != nil {
		if err := c.SetProxy(id.Proxy.URL()); err != nil {
			return nil, fmt.Errorf("set proxy: %w", err)
		}
	}

	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &staticSession{collector: c, logger: logger}

	c.OnRequest(func(r *colly.Request) {
		if id.Locale != "" {
			r.Headers.Set("Accept-Language", strings.ReplaceAll(id.Locale, "_", "-"))
		}
	})
	c.OnResponse(s.capture)

	return s, nil
}

func (s *staticSession) capture(r *colly.Response) {
	var reader io.Reader = bytes.NewReader(r.Body)
	if decoded, err := charset.NewReader(reader, r.Headers.Get("Content-Type")); err == nil {
		reader = decoded
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		s.logger.Warn("decode body failed, keeping raw bytes", "url", r.Request.URL.String(), "err", err)
		body = r.Body
	}
	s.current = r.Request.URL
	s.html = string(body)
	s.status = r.StatusCode
}

func (s *staticSession) Navigate(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.current, s.html, s.status = nil, "", 0
	if err := s.collector.Visit(target); err != nil {
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			return fmt.Errorf("navigate %s: %w", target, ErrBlocked)
		}
		return fmt.Errorf("navigate %s: %w", target, err)
	}
	if s.current == nil {
		return fmt.Errorf("navigate %s: no response received", target)
	}
	s.logger.Debug("page fetched", "url", target, "status", s.status)
	return nil
}

// WaitFor checks the fetched document once. A static page never changes, so
// an absent element is reported as a timeout right away.
func (s *staticSession) WaitFor(ctx context.Context, sel string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := s.document()
	if err != nil {
		return err
	}
	if doc.Find(sel).Length() == 0 {
		return fmt.Errorf("wait for %q: %w after %s", sel, ErrTimeout, timeout)
	}
	return nil
}

func (s *staticSession) Click(ctx context.Context, sel string, index int) error {
	doc, err := s.document()
	if err != nil {
		return err
	}
	target := doc.Find(sel).Eq(index)
	if target.Length() == 0 {
		return fmt.Errorf("click %q[%d]: %w", sel, index, ErrNoElement)
	}

	href, ok := target.Attr("href")
	if !ok {
		href, ok = target.Closest("a[href]").Attr("href")
	}
	if !ok {
		href, ok = target.Find("a[href]").First().Attr("href")
	}
	if !ok {
		return fmt.Errorf("click %q[%d]: element carries no link: %w", sel, index, ErrNoElement)
	}

	ref, err := url.Parse(href)
	if err != nil {
		return fmt.Errorf("click %q[%d]: %w", sel, index, err)
	}
	return s.Navigate(ctx, s.current.ResolveReference(ref).String())
}

func (s *staticSession) Markup(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.current == nil {
		return "", errors.New("read markup: no page loaded")
	}
	return s.html, nil
}

func (s *staticSession) Close() error {
	s.collector.Wait()
	return nil
}

func (s *staticSession) document() (*goquery.Document, error) {
	if s.current == nil {
		return nil, errors.New("no page loaded")
	}
	return goquery.NewDocumentFromReader(strings.NewReader(s.html))
}
