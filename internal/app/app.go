package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"insta_spider/internal/config"
	"insta_spider/internal/crawl"
	"insta_spider/internal/db"
	"insta_spider/internal/ledger"
	"insta_spider/internal/models"
	"insta_spider/internal/notify"
	"insta_spider/internal/session"
	targetqueue "insta_spider/internal/target_queue"
)

type SpiderApp struct {
	config   *config.SpiderConfig
	logger   *slog.Logger
	store    db.Gateway
	ledger   *ledger.Ledger
	closers  []io.Closer
	notifier notify.Notifier
	sessions session.Factory
	crawlAt  time.Time
}

// NewSpiderApp connects the store and the retry ledger and prepares the
// session factory for the running platform. The capture instant shared by
// every target is fixed here.
func NewSpiderApp(cfg *config.SpiderConfig, logger *slog.Logger) (*SpiderApp, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sessions, err := session.NewFactory(cfg, runtime.GOOS, logger)
	if err != nil {
		return nil, err
	}

	store, err := db.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &SpiderApp{
		config:   cfg,
		logger:   logger,
		store:    store,
		closers:  []io.Closer{store},
		notifier: notify.New(cfg.Notify, logger),
		sessions: sessions,
		crawlAt:  time.Now(),
	}

	var list ledger.ListStore
	if cfg.Redis.Addr == "" {
		logger.Warn("redis address not set, failures are kept in memory for this process only")
		list = ledger.NewMemoryStore()
	} else {
		rs, err := ledger.NewRedisStore(cfg.Redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		a.closers = append(a.closers, rs)
		list = rs
	}
	a.ledger = ledger.New(list, cfg.Redis.ErrorTable)

	return a, nil
}

type CrawlOptions struct {
	Overwrite bool
	Workers   int
	// Entities replaces the stored target list when not empty.
	Entities []string
}

// Crawl runs every target once and notifies the aggregate result.
func (a *SpiderApp) Crawl(ctx context.Context, opts CrawlOptions) (Summary, error) {
	entities := opts.Entities
	if len(entities) == 0 {
		var err error
		entities, err = a.store.Targets(ctx)
		if err != nil {
			return Summary{}, fmt.Errorf("load targets: %w", err)
		}
	}
	queue := targetqueue.NewTargetQueue(entities...)
	a.logger.Info("crawl starting", "targets", queue.Size(), "overwrite", opts.Overwrite,
		"db", a.config.DB.Database, "crawl_at", a.crawlAt.Format(models.TimeLayout))

	return a.dispatch(ctx, "crawl", queue, opts.Overwrite, CrawlPoolSize(a.workers(opts.Workers, a.config.Logic.MaxConcurrentWorkers)))
}

type RetryOptions struct {
	Overwrite bool
	Workers   int
}

// Retry drains the ledger and crawls each recorded entity once. Runs that
// fail again are recorded anew for the next pass. When ctx is canceled, every
// drained entity that did not finish is recorded again.
func (a *SpiderApp) Retry(ctx context.Context, opts RetryOptions) (Summary, error) {
	queue := targetqueue.NewTargetQueue()
	reasons := make(map[string]string)
	for rec, err := range a.ledger.Drain(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			a.logger.Warn("skipping ledger entry", "err", err)
			continue
		}
		if queue.Add(rec.Username) {
			reasons[targetqueue.NormalizeEntity(rec.Username)] = rec.Error
		}
	}
	if err := ctx.Err(); err != nil {
		a.restore(ctx, queue, nil, reasons)
		return Summary{Classes: map[crawl.Class]int{}}, err
	}
	if queue.Size() == 0 {
		a.logger.Info("ledger is empty, nothing to retry")
		return Summary{Classes: map[crawl.Class]int{}}, nil
	}

	summary, err := a.dispatch(ctx, "retry", queue, opts.Overwrite, RetryPoolSize(a.workers(opts.Workers, a.config.Logic.RetryWorkers)))
	if ctx.Err() != nil {
		a.restore(ctx, queue, summary.Unfinished, reasons)
	}
	return summary, err
}

// restore records again the canceled runs and whatever is still queued.
func (a *SpiderApp) restore(ctx context.Context, queue *targetqueue.TargetQueue, unfinished []string, reasons map[string]string) {
	ctx = context.WithoutCancel(ctx)
	for {
		entity, ok := queue.Get()
		if !ok {
			break
		}
		unfinished = append(unfinished, entity)
	}
	for _, entity := range unfinished {
		reason := reasons[entity]
		if reason == "" {
			reason = crawl.ClassCanceled.String()
		}
		if err := a.ledger.Record(ctx, entity, reason); err != nil {
			a.logger.Error("ledger write failed", "entity", entity, "err", err)
		}
	}
	if len(unfinished) > 0 {
		a.logger.Warn("retry interrupted, entries restored", "restored", len(unfinished))
	}
}

// Pending lists ledger entries oldest first without removing them.
func (a *SpiderApp) Pending(ctx context.Context, limit int) ([]models.FailureRecord, error) {
	return a.ledger.Peek(ctx, limit)
}

func (a *SpiderApp) workers(flag, configured int) int {
	if flag > 0 {
		return flag
	}
	return configured
}

func (a *SpiderApp) dispatch(ctx context.Context, pass string, queue *targetqueue.TargetQueue, overwrite bool, workers int) (Summary, error) {
	engine, err := crawl.NewEngine(a.config, crawl.Deps{
		Sessions: a.sessions,
		Store:    a.store,
		Ledger:   a.ledger,
		Notifier: a.notifier,
		Logger:   a.logger,
	}, a.crawlAt, overwrite)
	if err != nil {
		return Summary{}, err
	}

	summary := NewDispatcher(engine, workers, a.logger).Dispatch(ctx, queue)
	a.logger.Info(pass+" finished", "elapsed", summary.Elapsed.Round(time.Millisecond),
		"targets", summary.Targets, "items", summary.Items, "failed", summary.Failures())
	a.notifier.Notify(context.WithoutCancel(ctx), summary.Report(pass))
	return summary, ctx.Err()
}

func (a *SpiderApp) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}
