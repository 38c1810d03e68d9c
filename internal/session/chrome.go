package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"

	"insta_spider/internal/config"
)

// ChromeFactory starts one headless Chrome per session.
type ChromeFactory struct {
	Browser  config.BrowserConfig
	ExecPath string
	Timeouts Timeouts
	Logger   *slog.Logger
}

type chromeSession struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	timeouts    Timeouts
}

func (f *ChromeFactory) Open(ctx context.Context) (Session, error) {
	id := PickIdentity(f.Browser)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.Browser.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if f.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.ExecPath))
	}
	if id.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(id.UserAgent))
	}
	if id.Locale != "" {
		opts = append(opts, chromedp.Flag("lang", id.Locale))
	}
	if id.Proxy != nil {
		opts = append(opts, chromedp.ProxyServer(id.Proxy.Server()))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		if f.Logger != nil {
			f.Logger.Debug(fmt.Sprintf(format, args...))
		}
	}))

	var start []chromedp.Action
	if id.Proxy != nil && id.Proxy.User != "" {
		listenProxyAuth(tabCtx, *id.Proxy)
		start = append(start, fetch.Enable().WithHandleAuthRequests(true))
	}

	// The first Run launches the browser; it must not carry a deadline or the
	// browser dies with it.
	if err := chromedp.Run(tabCtx, start...); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	return &chromeSession{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		timeouts:    f.Timeouts,
	}, nil
}

func listenProxyAuth(tabCtx context.Context, proxy config.ProxyConfig) {
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch ev := ev.(type) {
		case *fetch.EventRequestPaused:
			go func() {
				execCtx := cdp.WithExecutor(tabCtx, chromedp.FromContext(tabCtx).Target)
				_ = fetch.ContinueRequest(ev.RequestID).Do(execCtx)
			}()
		case *fetch.EventAuthRequired:
			go func() {
				execCtx := cdp.WithExecutor(tabCtx, chromedp.FromContext(tabCtx).Target)
				_ = fetch.ContinueWithAuth(ev.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: proxy.User,
					Password: proxy.Password,
				}).Do(execCtx)
			}()
		}
	})
}

// run bounds actions by timeout and aborts early if ctx is cancelled.
func (s *chromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	return err
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, s.timeouts.Navigate, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *chromeSession) WaitFor(ctx context.Context, sel string, timeout time.Duration) error {
	if err := s.run(ctx, timeout, chromedp.WaitReady(sel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", sel, err)
	}
	return nil
}

func (s *chromeSession) Click(ctx context.Context, sel string, index int) error {
	var nodes []*cdp.Node
	if err := s.run(ctx, s.timeouts.Action, chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return fmt.Errorf("query %q: %w", sel, err)
	}
	if index < 0 || index >= len(nodes) {
		return fmt.Errorf("click %q[%d] of %d: %w", sel, index, len(nodes), ErrNoElement)
	}
	if err := s.run(ctx, s.timeouts.Action, chromedp.MouseClickNode(nodes[index])); err != nil {
		return fmt.Errorf("click %q[%d]: %w", sel, index, err)
	}
	return nil
}

func (s *chromeSession) Markup(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.timeouts.Action, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read markup: %w", err)
	}
	return html, nil
}

func (s *chromeSession) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.cancelTab()
	s.cancelAlloc()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
