package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insta_spider/internal/config"
	"insta_spider/internal/crawl"
	"insta_spider/internal/db"
	"insta_spider/internal/models"
)

// site serves a tiny static rendition of the remote pages and a Telegram
// endpoint that records every message.
type site struct {
	srv *httptest.Server

	mu       sync.Mutex
	messages []string
	// onProfile runs before a profile page is served.
	onProfile func()
}

const profilePage = `<html><body>
<ul class="k9GMp"><li><span>2</span></li><li><span title="2,000">2k</span></li><li><span>10</span></li></ul>
<div class="-vDIg"><h1>Alice</h1><span>hello</span></div>
<div class="_9AhH0"><a href="/p/1/">1</a></div>
<div class="_9AhH0"><a href="/p/2/">2</a></div>
</body></html>`

func itemPage(n int, published time.Time, next bool) string {
	nextLink := ""
	if next {
		nextLink = fmt.Sprintf(`<a class="_65Bje coreSpriteRightPaginationArrow" href="/p/%d/">next</a>`, n+1)
	}
	return fmt.Sprintf(`<html><body><article>
<div class="C4VMK"><a class="FPmhX notranslate TlrDj">alice</a><span>post %d <a class="xil3i">#sun</a></span></div>
<time class="_1o9PC Nzb55" datetime="%s"></time>
<div class="Nm9Fw"><button><span>%d</span></button></div>
%s
<div class="Igw0E"><a href="/alice/"><button class="wpO6b">close</button></a></div>
</article></body></html>`, n, published.UTC().Format(time.RFC3339), n*10, nextLink)
}

func newSite(t *testing.T) *site {
	t.Helper()
	s := &site{}
	first, second := time.Now().Add(-24*time.Hour), time.Now().Add(-48*time.Hour)
	mux := http.NewServeMux()
	mux.HandleFunc("/alice/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		hook := s.onProfile
		s.mu.Unlock()
		if hook != nil {
			hook()
		}
		fmt.Fprint(w, profilePage)
	})
	mux.HandleFunc("/p/1/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, itemPage(1, first, true))
	})
	mux.HandleFunc("/p/2/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, itemPage(2, second, false))
	})
	mux.HandleFunc("/ghost/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `<html><body><div class="error-container">Sorry</div></body></html>`)
	})
	mux.HandleFunc("/broken/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>maintenance</p></body></html>`)
	})
	mux.HandleFunc("/bottoken/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.messages = append(s.messages, body["text"])
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *site) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func newTestApp(t *testing.T, s *site) *SpiderApp {
	t.Helper()
	cfg := config.Default()
	cfg.DB.Driver = "sqlite"
	cfg.DB.Connection = ":memory:"
	cfg.Redis.Addr = ""
	cfg.Browser.Engine = "static"
	cfg.Browser.BaseURL = s.srv.URL + "/{username}/"
	cfg.Notify = config.NotifyConfig{TelegramToken: "token", ChatID: "42", APIURL: s.srv.URL}
	cfg.Logic.ProfileDelay = config.DelayRange{}
	cfg.Logic.ItemDelay = config.DelayRange{}
	cfg.Logic.NextDelay = config.DelayRange{}
	require.NoError(t, cfg.Validate())

	a, err := NewSpiderApp(cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestCrawlNamedEntities(t *testing.T) {
	s := newSite(t)
	a := newTestApp(t, s)
	ctx := context.Background()

	sum, err := a.Crawl(ctx, CrawlOptions{Workers: 2, Entities: []string{"alice", "ghost", "broken", "@alice"}})
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Targets)
	assert.Equal(t, 2, sum.Items)
	assert.Equal(t, 1, sum.Classes[crawl.ClassFeedExhausted])
	assert.Equal(t, 1, sum.Classes[crawl.ClassUnavailable])
	assert.Equal(t, 1, sum.Classes[crawl.ClassTransientTimeout])

	store := a.store.(*db.SQLite)
	n, err := store.ContentCount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	p, err := store.Profile(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.EqualValues(t, 2000, p.FollowerCount)
	assert.Equal(t, "Alice\nhello", p.UserDescription)

	pending, err := a.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "broken", pending[0].Username)

	msgs := s.sent()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "broken: \ntransient_timeout")
	assert.Contains(t, msgs[1], "crawl finished")
}

func TestCrawlStoredTargets(t *testing.T) {
	s := newSite(t)
	a := newTestApp(t, s)
	ctx := context.Background()
	store := a.store.(*db.SQLite)
	require.NoError(t, store.PutTarget(ctx, "fixed_pages", models.Target{UserName: "alice", FollowerCount: 2000}))
	require.NoError(t, store.PutTarget(ctx, "keyword_user_stats", models.Target{UserName: "ghost", FollowerCount: 900}))
	require.NoError(t, store.PutTarget(ctx, "keyword_user_stats", models.Target{UserName: "tiny", FollowerCount: 3}))

	sum, err := a.Crawl(ctx, CrawlOptions{Workers: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Targets)
	assert.Equal(t, 1, sum.Classes[crawl.ClassUnavailable])

	again, err := a.Crawl(ctx, CrawlOptions{Workers: 1, Entities: []string{"alice"}})
	require.NoError(t, err)
	assert.Equal(t, 1, again.Classes[crawl.ClassDuplicateWrite])
	assert.Zero(t, again.Items)
}

func TestRetryDrainsAndRerecords(t *testing.T) {
	s := newSite(t)
	a := newTestApp(t, s)
	ctx := context.Background()

	require.NoError(t, a.ledger.Record(ctx, "alice", "transient_timeout: profile page did not load"))
	require.NoError(t, a.ledger.Record(ctx, "broken", "transient_timeout: profile page did not load"))
	require.NoError(t, a.ledger.Record(ctx, "alice", "transient_timeout: profile page did not load"))

	sum, err := a.Retry(ctx, RetryOptions{Workers: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Targets)
	assert.Equal(t, 1, sum.Classes[crawl.ClassFeedExhausted])
	pending, err := a.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "broken", pending[0].Username)
}

func TestRetryEmptyLedger(t *testing.T) {
	s := newSite(t)
	a := newTestApp(t, s)

	sum, err := a.Retry(context.Background(), RetryOptions{})
	require.NoError(t, err)
	assert.Zero(t, sum.Targets)
	assert.Empty(t, s.sent())
}

func TestNewSpiderAppRejectsUnknownEngine(t *testing.T) {
	cfg := config.Default()
	cfg.Browser.Engine = "lynx"
	_, err := NewSpiderApp(cfg, discardLogger())
	assert.Error(t, err)
}

func TestRetryInterruptedKeepsUnfinishedEntries(t *testing.T) {
	s := newSite(t)
	a := newTestApp(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, entity := range []string{"alice", "bob", "carol"} {
		require.NoError(t, a.ledger.Record(ctx, entity, "transient_timeout: profile page did not load"))
	}
	s.mu.Lock()
	s.onProfile = cancel
	s.mu.Unlock()

	sum, err := a.Retry(ctx, RetryOptions{Workers: 1})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"alice"}, sum.Unfinished)

	pending, err := a.Pending(context.Background(), 0)
	require.NoError(t, err)
	var names []string
	for _, rec := range pending {
		names = append(names, rec.Username)
		assert.Equal(t, "transient_timeout: profile page did not load", rec.Error)
	}
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, names)
}

func TestRetryCanceledBeforeDispatchKeepsEntries(t *testing.T) {
	s := newSite(t)
	a := newTestApp(t, s)
	require.NoError(t, a.ledger.Record(context.Background(), "alice", "structural_missing: open first item"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Retry(ctx, RetryOptions{Workers: 1})
	require.ErrorIs(t, err, context.Canceled)

	pending, err := a.Pending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "alice", pending[0].Username)
	assert.Equal(t, "structural_missing: open first item", pending[0].Error)
}
