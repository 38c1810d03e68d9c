package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insta_spider/internal/config"
)

func TestBinaryPath(t *testing.T) {
	binaries := config.Default().Browser.Binaries

	p, err := BinaryPath("/opt/bin", binaries, "linux")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/opt/bin", "chrome-linux/chrome"), p)

	_, err = BinaryPath("/opt/bin", binaries, "plan9")
	assert.Error(t, err)
}

func TestPickIdentity(t *testing.T) {
	cfg := config.BrowserConfig{
		Locale:     "ko_KR",
		UserAgents: []string{"agent-a", "agent-b"},
		Proxies:    []config.ProxyConfig{{Protocol: "http", Host: "10.0.0.1", Port: 3128, User: "u", Password: "p"}},
	}
	id := PickIdentity(cfg)
	assert.Contains(t, cfg.UserAgents, id.UserAgent)
	require.NotNil(t, id.Proxy)
	assert.Equal(t, "http://10.0.0.1:3128", id.Proxy.Server())
	assert.Equal(t, "http://u:p@10.0.0.1:3128", id.Proxy.URL())
	assert.Equal(t, "ko_KR", id.Locale)

	empty := PickIdentity(config.BrowserConfig{})
	assert.Empty(t, empty.UserAgent)
	assert.Nil(t, empty.Proxy)
}

func TestNewFactory(t *testing.T) {
	cfg := config.Default()

	f, err := NewFactory(cfg, "linux", nil)
	require.NoError(t, err)
	assert.IsType(t, &ChromeFactory{}, f)
	assert.Empty(t, f.(*ChromeFactory).ExecPath)

	cfg.Browser.BinDir = "/opt/browsers"
	f, err = NewFactory(cfg, "linux", nil)
	require.NoError(t, err)
	assert.Equal(t, "/opt/browsers/chrome-linux/chrome", f.(*ChromeFactory).ExecPath)

	cfg.Browser.Engine = "static"
	f, err = NewFactory(cfg, "linux", nil)
	require.NoError(t, err)
	assert.IsType(t, &StaticFactory{}, f)

	cfg.Browser.Engine = "lynx"
	_, err = NewFactory(cfg, "linux", nil)
	assert.Error(t, err)
}

func newStaticServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/alice/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ko-KR", r.Header.Get("Accept-Language"))
		fmt.Fprint(w, `<html><body>
<div class="grid"><a href="/p/one/"><div class="item">one</div></a><a href="/p/two/"><div class="item">two</div></a></div>
<button class="close">x</button></body></html>`)
	})
	mux.HandleFunc("/p/two/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="detail">two</div></body></html>`)
	})
	mux.HandleFunc("/ghost/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `<html><body><div class="error-container">gone</div></body></html>`)
	})
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func openStatic(t *testing.T) Session {
	t.Helper()
	f := &StaticFactory{
		Browser:  config.BrowserConfig{Locale: "ko_KR", UserAgents: []string{"spider-test"}},
		Timeouts: Timeouts{Action: time.Second, Navigate: 5 * time.Second},
	}
	s, err := f.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStaticSessionNavigation(t *testing.T) {
	srv := newStaticServer(t)
	s := openStatic(t)
	ctx := context.Background()

	require.NoError(t, s.Navigate(ctx, srv.URL+"/alice/"))
	require.NoError(t, s.WaitFor(ctx, "div.item", time.Second))

	err := s.WaitFor(ctx, "div.detail", time.Second)
	assert.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, s.Click(ctx, "div.item", 1))
	html, err := s.Markup(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, `class="detail"`)
}

func TestStaticSessionClickErrors(t *testing.T) {
	srv := newStaticServer(t)
	s := openStatic(t)
	ctx := context.Background()

	require.NoError(t, s.Navigate(ctx, srv.URL+"/alice/"))
	assert.ErrorIs(t, s.Click(ctx, "div.item", 5), ErrNoElement)
	assert.ErrorIs(t, s.Click(ctx, "button.close", 0), ErrNoElement)
}

func TestStaticSessionKeepsErrorPages(t *testing.T) {
	srv := newStaticServer(t)
	s := openStatic(t)
	ctx := context.Background()

	require.NoError(t, s.Navigate(ctx, srv.URL+"/ghost/"))
	html, err := s.Markup(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "error-container")
}

func TestStaticSessionBeforeNavigate(t *testing.T) {
	s := openStatic(t)
	_, err := s.Markup(context.Background())
	assert.Error(t, err)
}

func TestStaticSessionHonorsRobots(t *testing.T) {
	srv := newStaticServer(t)
	s := openStatic(t)

	err := s.Navigate(context.Background(), srv.URL+"/private/")
	assert.ErrorIs(t, err, ErrBlocked)
}
