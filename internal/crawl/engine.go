// Package crawl walks one entity's feed: profile, first item, then item after
// item until a terminal condition.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"insta_spider/internal/config"
	"insta_spider/internal/db"
	"insta_spider/internal/extract"
	"insta_spider/internal/markup"
	"insta_spider/internal/models"
	"insta_spider/internal/session"
)

var tracer = otel.Tracer("insta_spider/internal/crawl")

type Store interface {
	UpsertProfile(ctx context.Context, p models.ProfileSnapshot) error
	UpsertDaily(ctx context.Context, d models.DailySnapshot) error
	InsertContent(ctx context.Context, item models.ContentItem) error
	UpsertContent(ctx context.Context, item models.ContentItem) error
}

type Ledger interface {
	Record(ctx context.Context, entity, errText string) error
}

type Notifier interface {
	Notify(ctx context.Context, text string)
}

type Deps struct {
	Sessions session.Factory
	Store    Store
	Ledger   Ledger
	Notifier Notifier
	Logger   *slog.Logger
}

type Engine struct {
	logic     config.LogicConfig
	sel       config.Selectors
	browser   config.BrowserConfig
	extractor *extract.Extractor
	deps      Deps
	crawlAt   time.Time
	overwrite bool

	sleep func(ctx context.Context, d time.Duration)
}

// NewEngine builds an engine sharing one capture instant across every run.
// In overwrite mode items are upserted; otherwise the first already stored
// item ends the run.
func NewEngine(cfg *config.SpiderConfig, deps Deps, crawlAt time.Time, overwrite bool) (*Engine, error) {
	loc, err := cfg.Logic.Location()
	if err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{
		logic:     cfg.Logic,
		sel:       cfg.Selectors,
		browser:   cfg.Browser,
		extractor: extract.New(cfg.Selectors, cfg.Logic.RecencyWindow(), loc),
		deps:      deps,
		crawlAt:   crawlAt,
		overwrite: overwrite,
		sleep:     sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run crawls entity to completion. It never panics and always releases the
// session it opened. Failures are recorded to the ledger and notified.
func (e *Engine) Run(ctx context.Context, entity string) (out Outcome) {
	ctx, span := tracer.Start(ctx, "crawl.Run", trace.WithAttributes(attribute.String("entity", entity)))
	defer span.End()

	logger := e.deps.Logger.With("entity", entity)
	out.Entity = entity

	defer func() {
		if r := recover(); r != nil {
			out.Class = ClassInternal
			out.Err = fmt.Errorf("panic: %v", r)
		}
		e.finish(ctx, logger, span, out)
	}()

	sess, err := e.deps.Sessions.Open(ctx)
	if err != nil {
		out.Class, out.Err = ClassSessionFailure, fmt.Errorf("open session: %w", err)
		return out
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("session close failed", "err", err)
		}
	}()

	r := &run{Engine: e, sess: sess, entity: entity, logger: logger}
	res := r.walk(ctx)
	out.Class, out.Err, out.Items = res.Class, res.Err, r.items
	return out
}

func (e *Engine) finish(ctx context.Context, logger *slog.Logger, span trace.Span, out Outcome) {
	span.SetAttributes(attribute.String("class", out.Class.String()), attribute.Int("items", out.Items))
	if !out.Class.Failure() {
		logger.Info("crawl finished", "class", out.Class.String(), "items", out.Items)
		return
	}

	span.RecordError(out.Err)
	span.SetStatus(codes.Error, out.Class.String())
	logger.Error("crawl failed", "class", out.Class.String(), "items", out.Items, "err", out.Err)

	text := fmt.Sprintf("%s: %v", out.Class, out.Err)
	reportCtx := context.WithoutCancel(ctx)
	if err := e.deps.Ledger.Record(reportCtx, out.Entity, text); err != nil {
		logger.Error("ledger write failed", "err", err)
	}
	e.deps.Notifier.Notify(reportCtx, fmt.Sprintf("%s: \n%s", out.Entity, text))
}

type state int

const (
	stateInit state = iota
	stateProfileLoaded
	stateFirstItemOpen
	stateItemExtracted
	stateAdvancing
)

func (s state) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateProfileLoaded:
		return "profile_loaded"
	case stateFirstItemOpen:
		return "first_item_open"
	case stateItemExtracted:
		return "item_extracted"
	case stateAdvancing:
		return "advancing"
	}
	return "unknown"
}

type run struct {
	*Engine
	sess   session.Session
	entity string
	logger *slog.Logger
	items  int
}

func (r *run) walk(ctx context.Context) Result {
	st := stateInit
	for {
		if err := ctx.Err(); err != nil {
			return fail(ClassCanceled, err)
		}

		var (
			res  Result
			next state
		)
		switch st {
		case stateInit:
			res, next = r.loadProfile(ctx), stateProfileLoaded
		case stateProfileLoaded:
			res, next = r.openFirstItem(ctx), stateFirstItemOpen
		case stateFirstItemOpen, stateAdvancing:
			res, next = r.extractItem(ctx), stateItemExtracted
		case stateItemExtracted:
			res, next = r.advance(ctx), stateAdvancing
		}
		if res.Kind != Continue {
			return res
		}
		r.logger.Debug("state", "from", st.String(), "to", next.String())
		st = next
	}
}

func (r *run) loadProfile(ctx context.Context) Result {
	if err := r.sess.Navigate(ctx, r.browser.ProfileURL(r.entity)); err != nil {
		if errors.Is(err, session.ErrBlocked) {
			r.logger.Warn("profile fetch disallowed by host", "err", err)
			return stop(ClassUnavailable)
		}
		return sessionFailure(ctx, "open profile", err)
	}

	if err := r.sess.WaitFor(ctx, r.sel.ProfileReady, r.logic.ProfileTimeout()); err != nil {
		if !errors.Is(err, session.ErrTimeout) {
			return sessionFailure(ctx, "wait for profile", err)
		}
		if doc, derr := r.markup(ctx); derr == nil && r.extractor.PageUnavailable(doc) {
			r.logger.Info("private user or page not found")
			return stop(ClassUnavailable)
		}
		return fail(ClassTransientTimeout, fmt.Errorf("profile page did not load: %w", err))
	}

	doc, err := r.markup(ctx)
	if err != nil {
		return sessionFailure(ctx, "read profile", err)
	}
	profile, err := r.extractor.Profile(doc, r.entity, r.crawlAt)
	if err != nil {
		return fail(ClassStructuralMissing, err)
	}
	if err := r.deps.Store.UpsertProfile(ctx, profile); err != nil {
		return fail(ClassPersistenceFailure, err)
	}
	if err := r.deps.Store.UpsertDaily(ctx, r.extractor.Daily(profile, r.crawlAt)); err != nil {
		return fail(ClassPersistenceFailure, err)
	}
	r.logger.Debug("profile stored", "followers", profile.FollowerCount, "posts", profile.PostCount)

	r.pause(ctx, r.logic.ProfileDelay)
	return proceed()
}

func (r *run) openFirstItem(ctx context.Context) Result {
	r.dismissLoginPopup(ctx)

	if err := r.sess.Click(ctx, r.sel.GridItem, 0); err != nil {
		return clickFailure(ctx, "open first item", err)
	}
	if err := r.sess.WaitFor(ctx, r.sel.ItemReady, r.logic.FirstItemTimeout()); err != nil {
		return sessionFailure(ctx, "wait for first item", err)
	}
	r.pause(ctx, r.logic.ItemDelay)
	return proceed()
}

// The login overlay can intercept the first click. Closing it is best effort.
func (r *run) dismissLoginPopup(ctx context.Context) {
	doc, err := r.markup(ctx)
	if err != nil || !r.extractor.HasLoginPopup(doc) {
		return
	}
	if err := r.sess.Click(ctx, r.sel.LoginPopupClose, 0); err != nil {
		r.logger.Debug("login popup not closed", "err", err)
	}
}

func (r *run) extractItem(ctx context.Context) Result {
	doc, err := r.markup(ctx)
	if err != nil {
		return sessionFailure(ctx, "read item", err)
	}

	item, likePending, err := r.extractor.Item(doc, r.entity, r.crawlAt)
	if errors.Is(err, extract.ErrStaleItem) {
		r.logger.Debug("reached recency cutoff")
		return stop(ClassStaleContent)
	}
	if err != nil {
		return fail(ClassStructuralMissing, err)
	}

	if likePending {
		likes, res := r.resolveLikes(ctx, doc)
		if res.Kind != Continue {
			return res
		}
		item.LikeCount = likes
	}

	if r.overwrite {
		err = r.deps.Store.UpsertContent(ctx, item)
	} else {
		err = r.deps.Store.InsertContent(ctx, item)
		if errors.Is(err, db.ErrDuplicate) {
			r.logger.Info("item already stored", "id", item.ID)
			return stop(ClassDuplicateWrite)
		}
	}
	if err != nil {
		return fail(ClassPersistenceFailure, err)
	}
	r.items++
	r.logger.Debug("item stored", "id", item.ID, "likes", item.LikeCount, "comments", len(item.Comments))
	return proceed()
}

// resolveLikes reveals the like counter of video items through the view-count
// control. A counter that never appears counts as zero; a reveal panel that
// cannot be closed again is a load timeout.
func (r *run) resolveLikes(ctx context.Context, doc markup.Node) (int64, Result) {
	if !doc.Exists(r.sel.ViewCountControl) {
		return 0, proceed()
	}
	if err := r.sess.Click(ctx, r.sel.ViewCountControl, 0); err != nil {
		r.logger.Debug("view count control not clickable", "err", err)
		return 0, proceed()
	}
	if err := r.sess.WaitFor(ctx, r.sel.FallbackLikes, r.logic.LikeTimeout()); err != nil {
		if errors.Is(err, session.ErrTimeout) {
			r.logger.Debug("fallback like count did not load")
			return 0, proceed()
		}
		return 0, sessionFailure(ctx, "wait for fallback likes", err)
	}

	revealed, err := r.markup(ctx)
	if err != nil {
		return 0, sessionFailure(ctx, "read fallback likes", err)
	}
	likes, err := r.extractor.FallbackLikes(revealed)
	if err != nil {
		return 0, fail(ClassStructuralMissing, err)
	}

	if err := r.sess.WaitFor(ctx, r.sel.FallbackClose, r.logic.LikeTimeout()); err != nil {
		if errors.Is(err, session.ErrTimeout) {
			return 0, fail(ClassTransientTimeout, fmt.Errorf("%w: like panel close: %v", extract.ErrLoadTimeout, err))
		}
		return 0, sessionFailure(ctx, "wait for like panel close", err)
	}
	if err := r.sess.Click(ctx, r.sel.FallbackClose, 0); err != nil {
		r.logger.Warn("like panel not closed", "err", err)
	}
	return likes, proceed()
}

// advance opens the next item through the inline pager, or when the pager
// ends, by closing the detail and opening a fixed grid position.
func (r *run) advance(ctx context.Context) Result {
	doc, err := r.markup(ctx)
	if err != nil {
		return sessionFailure(ctx, "read item", err)
	}

	if doc.Exists(r.sel.NextControl) {
		if err := r.sess.Click(ctx, r.sel.NextControl, 0); err != nil {
			return clickFailure(ctx, "next item", err)
		}
	} else {
		if err := r.sess.WaitFor(ctx, r.sel.DetailClose, r.logic.NextTimeout()); err != nil {
			return sessionFailure(ctx, "wait for detail close", err)
		}
		if err := r.sess.Click(ctx, r.sel.DetailClose, 0); err != nil {
			return clickFailure(ctx, "close detail", err)
		}

		grid, err := r.markup(ctx)
		if err != nil {
			return sessionFailure(ctx, "read grid", err)
		}
		index := r.logic.GridFallbackIndex
		if count := len(grid.All(r.sel.GridItem)); count <= index {
			r.logger.Info("feed exhausted", "grid_items", count)
			return stop(ClassFeedExhausted)
		}
		if err := r.sess.Click(ctx, r.sel.GridItem, index); err != nil {
			return clickFailure(ctx, "open grid item", err)
		}
	}

	if err := r.sess.WaitFor(ctx, r.sel.ItemReady, r.logic.NextTimeout()); err != nil {
		return sessionFailure(ctx, "wait for next item", err)
	}
	r.pause(ctx, r.logic.NextDelay)
	return proceed()
}

func (r *run) markup(ctx context.Context) (markup.Node, error) {
	html, err := r.sess.Markup(ctx)
	if err != nil {
		return nil, err
	}
	return markup.Parse(html)
}

func (r *run) pause(ctx context.Context, window config.DelayRange) {
	lo, hi := window.Bounds()
	d := lo
	if hi > lo {
		d += rand.N(hi - lo)
	}
	r.sleep(ctx, d)
}

// sessionFailure classifies an error returned by a session call.
func sessionFailure(ctx context.Context, op string, err error) Result {
	err = fmt.Errorf("%s: %w", op, err)
	switch {
	case errors.Is(err, session.ErrTimeout):
		return fail(ClassTransientTimeout, err)
	case ctx.Err() != nil:
		return fail(ClassCanceled, err)
	default:
		return fail(ClassSessionFailure, err)
	}
}

func clickFailure(ctx context.Context, op string, err error) Result {
	if errors.Is(err, session.ErrBlocked) {
		return stop(ClassUnavailable)
	}
	if errors.Is(err, session.ErrNoElement) {
		return fail(ClassStructuralMissing, fmt.Errorf("%s: %w", op, err))
	}
	return sessionFailure(ctx, op, err)
}
